package onboard

import (
	. "math"

	"github.com/go-gl/mathgl/mgl64"
)

// Twist is a body velocity: linear in counts/s along the wheel path, angular in rad/s.
type Twist struct {
	Linear  float64
	Angular float64
}

// DiffKinematics maps between body twists and wheel setpoints for a drive whose
// wheels sit Track encoder counts apart.
type DiffKinematics struct {
	Track   float64
	forward mgl64.Mat2 // twist -> wheels
	inverse mgl64.Mat2 // wheels -> twist
}

func NewDiffKinematics(track float64) *DiffKinematics {
	// column major: [l r] = [[1 -T/2] [1 T/2]] * [v w]
	forward := mgl64.Mat2{1, 1, -track / 2, track / 2}

	return &DiffKinematics{
		Track:   track,
		forward: forward,
		inverse: forward.Inv(),
	}
}

// WheelSetpoints converts a twist to a setpoint pair. When either wheel would exceed
// the setpoint range both are scaled down together so the path curvature is kept.
func (k *DiffKinematics) WheelSetpoints(t Twist) (left, right int) {
	wheels := k.forward.Mul2x1(mgl64.Vec2{t.Linear, t.Angular})

	peak := Max(Abs(wheels.X()), Abs(wheels.Y()))
	if peak > SETPOINT_MAX {
		wheels = wheels.Mul(SETPOINT_MAX / peak)
	}

	left = int(Round(mgl64.Clamp(wheels.X(), SETPOINT_MIN, SETPOINT_MAX)))
	right = int(Round(mgl64.Clamp(wheels.Y(), SETPOINT_MIN, SETPOINT_MAX)))
	return
}

// Twist recovers the body twist from measured wheel velocities.
func (k *DiffKinematics) Twist(left, right float64) Twist {
	v := k.inverse.Mul2x1(mgl64.Vec2{left, right})
	return Twist{Linear: v.X(), Angular: v.Y()}
}
