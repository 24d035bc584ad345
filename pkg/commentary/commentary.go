// Package commentary holds the external collaborators of a race: a chat
// model producing lap commentary and an encyclopedia lookup for driver facts.
package commentary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/mpapenbr/lapsim-service-go/pkg/model"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrNotConfigured = errors.New("commentary not configured")
)

const (
	PlaceholderCommentary = "(commentary unavailable)"
	PlaceholderFact       = "(no fact available)"
)

// Situation is what the narrator gets to see of a lap.
type Situation struct {
	Lap         int
	TotalLaps   int
	Top         []model.Driver // current top 3
	PreviousTop []model.Driver // top 3 of the previous lap, empty on lap 1
	Raining     bool
	SafetyCar   bool
	Events      []string
}

type Narrator interface {
	Narrate(ctx context.Context, s Situation) (string, error)
	Chat(ctx context.Context, message string) (string, error)
}

type FactLookup interface {
	// Fact returns a short text about the driver or ErrNotFound
	Fact(ctx context.Context, driver string) (string, error)
}

// Noop is used when no collaborator is configured.
type Noop struct{}

var (
	_ Narrator   = Noop{}
	_ FactLookup = Noop{}
)

func (Noop) Narrate(context.Context, Situation) (string, error) {
	return "", nil
}

func (Noop) Chat(context.Context, string) (string, error) {
	return "", ErrNotConfigured
}

func (Noop) Fact(context.Context, string) (string, error) {
	return "", ErrNotFound
}

// BuildPrompt composes the narration request for a chat model.
func BuildPrompt(s Situation) string {
	b := strings.Builder{}
	fmt.Fprintf(&b,
		"You are a motorsport commentator. Give a short, lively commentary "+
			"(max. 2 sentences) for lap %d of %d.\n", s.Lap, s.TotalLaps)
	fmt.Fprintf(&b, "Top 3: %s.\n", strings.Join(
		lo.Map(s.Top, func(d model.Driver, i int) string {
			return fmt.Sprintf("P%d %s", i+1, d)
		}), ", "))
	if s.Raining {
		b.WriteString("Weather: rain.\n")
	} else {
		b.WriteString("Weather: dry.\n")
	}
	if s.SafetyCar {
		b.WriteString("The safety car is on track.\n")
	}
	for _, change := range topChanges(s.PreviousTop, s.Top) {
		b.WriteString(change + "\n")
	}
	if len(s.Events) > 0 {
		fmt.Fprintf(&b, "Events this lap: %s\n", strings.Join(s.Events, "; "))
	}
	return b.String()
}

// topChanges describes how the drivers in cur moved compared to prev.
func topChanges(prev, cur []model.Driver) []string {
	if len(prev) == 0 {
		return nil
	}
	ret := []string{}
	for i, d := range cur {
		old := lo.IndexOf(prev, d)
		switch {
		case old == -1:
			ret = append(ret, fmt.Sprintf("%s moved into P%d.", d.Name, i+1))
		case old > i:
			ret = append(ret, fmt.Sprintf("%s gained %d place(s) to P%d.", d.Name, old-i, i+1))
		case old < i:
			ret = append(ret, fmt.Sprintf("%s lost %d place(s) to P%d.", d.Name, i-old, i+1))
		}
	}
	return ret
}
