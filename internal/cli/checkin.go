package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"liveclass-service/internal/client"
	"liveclass-service/internal/config"
	"liveclass-service/internal/domain"
	"liveclass-service/internal/logger"
)

// NewCheckinCmd pushes an assignment to a student, a lecture check-in by default.
func NewCheckinCmd(configPath *string) *cobra.Command {
	var (
		studentID    string
		instructorID string
		title        string
		kind         string
		contentFile  string
	)
	cmd := &cobra.Command{
		Use:   "checkin",
		Short: "Push a lecture check-in (or any assignment) to a student",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log := logger.Setup(cfg.Log.Level, cfg.Log.Format)
			if studentID == "" {
				studentID = cfg.Reconciler.StudentID
			}
			if instructorID == "" {
				instructorID = cfg.Reconciler.InstructorID
			}
			if studentID == "" || instructorID == "" {
				return errMissing("student and instructor ids")
			}

			var content json.RawMessage
			if contentFile != "" {
				data, err := os.ReadFile(contentFile)
				if err != nil {
					return fmt.Errorf("read content: %w", err)
				}
				content = data
			} else if domain.AssignmentType(kind) == domain.TypeLectureCheckin {
				content = json.RawMessage(defaultCheckin)
			}

			apiURL := cfg.Reconciler.APIURL
			if apiURL == "" {
				apiURL = "http://localhost:8080"
			}
			api := client.NewAPIClient(apiURL, client.NewSession(cfg.Reconciler.Token), 10*time.Second)
			a, err := api.CreateAssignment(cmd.Context(), domain.NewAssignment{
				StudentID:    studentID,
				InstructorID: instructorID,
				Title:        title,
				Type:         domain.AssignmentType(kind),
				Content:      content,
			})
			if err != nil {
				return err
			}
			log.Info().Str("assignment_id", a.ID).Str("type", string(a.Type)).Msg("Assignment pushed")
			return nil
		},
	}
	cmd.Flags().StringVar(&studentID, "student", "", "target student id")
	cmd.Flags().StringVar(&instructorID, "instructor", "", "instructor id")
	cmd.Flags().StringVar(&title, "title", "Lecture check-in", "assignment title")
	cmd.Flags().StringVar(&kind, "type", string(domain.TypeLectureCheckin), "quiz | lecture_checkin | lesson | mini_project")
	cmd.Flags().StringVar(&contentFile, "content", "", "path to a JSON question set")
	return cmd
}

// defaultCheckin is a single pulse question used when no content file is given.
const defaultCheckin = `{"questions":[{"id":"pulse","prompt":"Are you following along so far?",
"options":[{"id":"yes","text":"Yes","correct":true},{"id":"no","text":"Not really"}]}]}`

func errMissing(what string) error {
	return fmt.Errorf("%s not configured", what)
}
