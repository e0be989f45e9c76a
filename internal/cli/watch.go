package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"liveclass-service/internal/client"
	"liveclass-service/internal/config"
	"liveclass-service/internal/domain"
	"liveclass-service/internal/infra/memory"
	infraredis "liveclass-service/internal/infra/redis"
	"liveclass-service/internal/logger"
	"liveclass-service/internal/reconciler"
	"liveclass-service/internal/session"
)

// NewWatchCmd runs the assignment reconciler for one student.
func NewWatchCmd(configPath *string) *cobra.Command {
	var studentID, instructorID string
	var dismissPolling bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep a student's assignments for today in sync with the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if studentID != "" {
				cfg.Reconciler.StudentID = studentID
			}
			if instructorID != "" {
				cfg.Reconciler.InstructorID = instructorID
			}
			return runWatch(cmd.Context(), cfg, dismissPolling)
		},
	}
	cmd.Flags().StringVar(&studentID, "student", "", "student id to follow")
	cmd.Flags().StringVar(&instructorID, "instructor", "", "only show this instructor's assignments")
	cmd.Flags().BoolVar(&dismissPolling, "dismiss-polling-notice", false, "stop showing the backup polling notice for this student")
	return cmd
}

func runWatch(ctx context.Context, cfg config.Config, dismissPolling bool) error {
	log := logger.Setup(cfg.Log.Level, cfg.Log.Format)
	rc := cfg.Reconciler
	if rc.StudentID == "" {
		return errMissing("student id")
	}
	apiURL := rc.APIURL
	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}
	feedURL := rc.FeedURL
	if feedURL == "" {
		feedURL = "ws://localhost:8080/ws"
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store session.Store = memory.NewKVStore()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		store = infraredis.NewKVStore(rdb, config.TTLDuration(cfg.Redis.TTL, 24*time.Hour))
	}
	flags := session.NewFlags(store, rc.StudentID)
	visits, err := flags.RecordVisit(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Session store unavailable")
	} else if visits == 1 {
		log.Info().Str("student_id", rc.StudentID).Msg("Welcome! New assignments from your instructor will show up here as they are posted")
	}

	sess := client.NewSession(rc.Token)
	api := client.NewAPIClient(apiURL, sess, 10*time.Second)
	feed := client.NewFeedClient(feedURL, sess, config.TTLDuration(rc.IdleTimeout, time.Minute), log)
	notifier := client.NewFlagNotifier(client.NewLogNotifier(log), flags, log)
	if dismissPolling {
		if err := notifier.Dismiss(ctx, reconciler.ExhaustedMessage); err != nil {
			log.Warn().Err(err).Msg("Dismiss polling notice failed")
		}
	}

	r := reconciler.New(reconciler.Options{
		StudentID:    rc.StudentID,
		InstructorID: rc.InstructorID,
		FetchLimit:   rc.FetchLimit,
		Settings:     watchSettings(cfg),
	}, api, feed, notifier, log)

	go renewSession(ctx, sess, config.TTLDuration(rc.RenewInterval, 0))
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-sess.Events():
				log.Info().Str("reason", string(ev.Reason)).Msg("Session renewed, resubscribing")
				r.Renew(ev.Reason)
			}
		}
	}()

	log.Info().Str("api", apiURL).Str("feed", feedURL).Msg("Watching assignments")
	r.Run(ctx)
	logSnapshot(log, r.Snapshot())
	return nil
}

func watchSettings(cfg config.Config) reconciler.Settings {
	def := reconciler.DefaultSettings()
	rc := cfg.Reconciler
	s := reconciler.Settings{
		CheckinDelay:  config.TTLDuration(rc.CheckinDelay, def.CheckinDelay),
		DebounceDelay: config.TTLDuration(rc.Debounce, def.DebounceDelay),
		PollInterval:  config.TTLDuration(rc.PollInterval, def.PollInterval),
		MaxRetries:    def.MaxRetries,
		BackoffBase:   config.TTLDuration(rc.BackoffBase, def.BackoffBase),
		BackoffMax:    config.TTLDuration(rc.BackoffMax, def.BackoffMax),
	}
	if rc.MaxRetries > 0 {
		s.MaxRetries = rc.MaxRetries
	}
	return s
}

// renewSession refreshes the token on a fixed interval. A zero interval disables it.
func renewSession(ctx context.Context, sess *client.Session, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sess.Renew(domain.AuthTokenRefreshed, sess.Token())
		}
	}
}

func logSnapshot(log zerolog.Logger, s reconciler.State) {
	log.Info().
		Str("status", string(s.Status)).
		Int("assignments", len(s.Assignments)).
		Bool("polling", s.Polling).
		Msg("Reconciler stopped")
}
