package app

import (
	"math"

	"liveclass-service/internal/domain"
)

const (
	xpPerConfidence = 10
	penaltyPerBet   = 5
	streakThreshold = 3
	streakBonus     = 5
)

// gradeAnswers scores answers against the question set with confidence betting.
// A correct answer earns 10 XP per confidence point; a wrong one costs 5 XP per
// point above the minimum bet. Every correct answer that brings the run of
// consecutive correct answers to three or more adds a streak bonus. Unanswered
// questions count as wrong without a penalty and end the streak.
func gradeAnswers(set domain.QuestionSet, answers []domain.Answer) (domain.GradingResult, error) {
	byQuestion := make(map[string]domain.Answer, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a
	}
	for id := range byQuestion {
		if findQuestion(set, id) == nil {
			return domain.GradingResult{}, domain.ErrQuestionNotFound
		}
	}

	result := domain.GradingResult{Total: len(set.Questions)}
	streak := 0
	for _, q := range set.Questions {
		answer, ok := byQuestion[q.ID]
		if !ok {
			streak = 0
			continue
		}
		confidence := clampConfidence(answer.Confidence)
		if isCorrect(q, answer.OptionID) {
			result.Correct++
			result.XP += xpPerConfidence * confidence
			streak++
			if streak >= streakThreshold {
				result.XP += streakBonus
			}
			if streak > result.BestStreak {
				result.BestStreak = streak
			}
			continue
		}
		streak = 0
		result.XP -= penaltyPerBet * (confidence - 1)
	}

	if result.XP < 0 {
		result.XP = 0
	}
	if result.Total > 0 {
		result.Grade = math.Round(100 * float64(result.Correct) / float64(result.Total))
	}
	return result, nil
}

func findQuestion(set domain.QuestionSet, id string) *domain.Question {
	for i := range set.Questions {
		if set.Questions[i].ID == id {
			return &set.Questions[i]
		}
	}
	return nil
}

func isCorrect(q domain.Question, optionID string) bool {
	for _, opt := range q.Options {
		if opt.ID == optionID {
			return opt.Correct
		}
	}
	return false
}

func clampConfidence(c int) int {
	switch {
	case c < 1:
		return 1
	case c > 3:
		return 3
	default:
		return c
	}
}
