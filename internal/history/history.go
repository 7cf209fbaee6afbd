// Package history rebuilds a single model's linear view of a branched
// turn ledger.
package history

import "modelarena/internal/models"

// Reconstruct returns the ordered message history one model would have seen
// across the given turns. Every turn contributes its user message; a model
// message follows only for turns the model participated in, copied from the
// candidate's current text. Turns the model skipped leave no placeholder, so
// the result may contain consecutive user messages; backends must tolerate
// that. Pure function, safe to call from any goroutine.
func Reconstruct(modelID string, turns []*models.Turn) []models.Message {
	history := make([]models.Message, 0, 2*len(turns))
	for _, turn := range turns {
		history = append(history, turn.UserMessage.Clone())

		cand := turn.Candidate(modelID)
		if cand == nil {
			continue
		}
		history = append(history, models.Message{
			Role:      models.RoleModel,
			Content:   cand.Content,
			CreatedAt: turn.CreatedAt,
		})
	}
	return history
}
