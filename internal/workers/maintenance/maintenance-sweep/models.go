// internal/workers/maintenance/maintenance-sweep/models.go
package maintenancesweep

import (
	"companion-workers/internal/matching/cooling"
	"companion-workers/internal/matching/effects"
)

type Input struct {
	BatchSize int `json:"batchSize,omitempty" validate:"omitempty,min=1,max=1000"`
}

type Output struct {
	Cooldowns         cooling.SweepStats  `json:"cooldowns"`
	PreMatchReminders int                 `json:"preMatchReminders"`
	SideEffects       effects.ReplayStats `json:"sideEffects"`
}
