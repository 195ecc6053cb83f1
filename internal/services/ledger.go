package services

import (
	"fmt"

	"moltlink/internal/models"
)

// Transition is the outcome of a vote request against the voter's existing state.
type Transition struct {
	From      models.Direction
	Requested models.Direction
	Result    models.Direction
	Delta     int // 净分变化
	UpDelta   int
	DownDelta int
}

// ResolveVote applies the toggle rule: repeating the current direction clears
// the vote, anything else moves to the requested direction.
//
//	none→up +1, none→down −1, up→up −1, down→down +1, up→down −2, down→up +2
func ResolveVote(existing, requested models.Direction) (Transition, error) {
	if requested != models.DirectionUp && requested != models.DirectionDown {
		return Transition{}, fmt.Errorf("invalid vote direction %d", requested)
	}
	if existing < models.DirectionDown || existing > models.DirectionUp {
		return Transition{}, fmt.Errorf("invalid existing direction %d", existing)
	}

	result := requested
	if existing == requested {
		result = models.DirectionNone
	}

	return Transition{
		From:      existing,
		Requested: requested,
		Result:    result,
		Delta:     int(result) - int(existing),
		UpDelta:   indicator(result == models.DirectionUp) - indicator(existing == models.DirectionUp),
		DownDelta: indicator(result == models.DirectionDown) - indicator(existing == models.DirectionDown),
	}, nil
}

func indicator(b bool) int {
	if b {
		return 1
	}
	return 0
}
