package testsession

import "github.com/stemsi/jobportal-backend/internal/model"

// Score counts the questions whose recorded answer equals the option text at
// the correct index. Unanswered questions never match.
func Score(questions []model.Question, answers map[string]string) int {
	score := 0
	for _, q := range questions {
		ans, ok := answers[q.ID]
		if !ok {
			continue
		}
		if q.CorrectOption < 0 || q.CorrectOption >= len(q.Options) {
			continue
		}
		if ans == q.Options[q.CorrectOption] {
			score++
		}
	}
	return score
}
