package main

import (
	"fmt"

	"github.com/c360/gcslink/telemetry"
)

// formatTelemetry renders one record as a single line.
func formatTelemetry(d telemetry.Data) string {
	return fmt.Sprintf(
		"t=%d pos=(%.3f,%.3f,%.3f) vel=(%.3f,%.3f,%.3f) acc=(%.3f,%.3f,%.3f) "+
			"rpy=(%.2f,%.2f,%.2f) rx=%d tx=%d fsm=%d sensor=0x%02x ejection=%d",
		d.Timestamp,
		d.Pos.X(), d.Pos.Y(), d.Pos.Z(),
		d.Vel.X(), d.Vel.Y(), d.Vel.Z(),
		d.Acc.X(), d.Acc.Y(), d.Acc.Z(),
		d.Euler.Roll(), d.Euler.Pitch(), d.Euler.Yaw(),
		d.RxCount, d.TxCount, d.FSM, d.Sensor, d.Ejection,
	)
}
