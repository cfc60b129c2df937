package types

import "testing"

func TestMigrationStateString(t *testing.T) {
	tests := []struct {
		state MigrationState
		want  string
	}{
		{StateSteady, "Steady"},
		{StateSwitching, "Switching"},
		{StateClosed, "Closed"},
		{MigrationState(999), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("MigrationState.String() = %v, want %v", got, tt.want)
			}
		})
	}
}
