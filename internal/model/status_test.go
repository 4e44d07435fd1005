package model

import "testing"

func TestStatusTransitions(t *testing.T) {
	all := []Status{StatusPending, StatusRendering, StatusCompleted, StatusCancelled, StatusFailed}

	allowed := map[Status]map[Status]bool{
		StatusPending:   {StatusRendering: true},
		StatusRendering: {StatusCompleted: true, StatusCancelled: true, StatusFailed: true},
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[from][to]
			if got := from.CanTransitionTo(to); got != want {
				t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	cases := map[Status]bool{
		StatusPending:   false,
		StatusRendering: false,
		StatusCompleted: true,
		StatusCancelled: true,
		StatusFailed:    true,
	}
	for status, want := range cases {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}
