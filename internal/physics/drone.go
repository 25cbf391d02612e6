package physics

import (
	"fmt"
	"math"

	"github.com/san-kum/trajopt/internal/dynamo"
	"gonum.org/v1/gonum/mat"
)

// Drone is a planar quadrotor with state [x, y, theta, vx, vy, omega] and
// the left and right rotor thrusts as inputs. Rotors only push: negative
// thrust commands are clipped to zero. A single input is split evenly.
type Drone struct {
	Mass      float64
	Inertia   float64
	ArmLength float64
	Gravity   float64

	// linear drag on translational and angular velocity
	Drag    float64
	AngDrag float64
}

func NewDrone() *Drone {
	return &Drone{
		Mass:      DefaultMass,
		Inertia:   0.1,
		ArmLength: 0.25,
		Gravity:   DefaultGravity,
		Drag:      0.1,
		AngDrag:   0.05,
	}
}

func (d *Drone) StateDim() int      { return 6 }
func (d *Drone) ControlDim() int    { return 2 }
func (d *Drone) IsSymplectic() bool { return true }

func (d *Drone) Clone() dynamo.System {
	c := *d
	return &c
}

// rotors returns the clipped thrusts and whether each one is active.
func (d *Drone) rotors(u dynamo.Control) (left, right float64, onL, onR bool) {
	switch {
	case len(u) >= 2:
		left, right = u[0], u[1]
	case len(u) == 1:
		left, right = u[0]/2, u[0]/2
	}
	onL, onR = left > 0, right > 0
	return math.Max(0, left), math.Max(0, right), onL, onR
}

func (d *Drone) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	theta, vx, vy, omega := x[2], x[3], x[4], x[5]
	left, right, _, _ := d.rotors(u)

	thrust := left + right
	sin, cos := math.Sin(theta), math.Cos(theta)

	ax := (-thrust*sin - d.Drag*vx) / d.Mass
	ay := (thrust*cos-d.Drag*vy)/d.Mass - d.Gravity
	alpha := ((right-left)*d.ArmLength - d.AngDrag*omega) / d.Inertia

	return dynamo.State{vx, vy, omega, ax, ay, alpha}
}

// Jacobians returns the exact partial derivatives of Derive. A clipped
// rotor contributes nothing to ∂f/∂u.
func (d *Drone) Jacobians(x dynamo.State, u dynamo.Control, t float64) (*mat.Dense, *mat.Dense) {
	theta := x[2]
	left, right, onL, onR := d.rotors(u)
	thrust := left + right
	sin, cos := math.Sin(theta), math.Cos(theta)

	dfdx := mat.NewDense(6, 6, nil)
	dfdx.Set(0, 3, 1)
	dfdx.Set(1, 4, 1)
	dfdx.Set(2, 5, 1)
	dfdx.Set(3, 2, -thrust*cos/d.Mass)
	dfdx.Set(3, 3, -d.Drag/d.Mass)
	dfdx.Set(4, 2, -thrust*sin/d.Mass)
	dfdx.Set(4, 4, -d.Drag/d.Mass)
	dfdx.Set(5, 5, -d.AngDrag/d.Inertia)

	m := d.ControlDim()
	if len(u) == 1 {
		m = 1
	}
	dfdu := mat.NewDense(6, m, nil)
	// column j gets the effect of rotor j; a single input drives both halves
	rotor := func(col int, on bool, scale, side float64) {
		if !on {
			return
		}
		dfdu.Set(3, col, dfdu.At(3, col)-scale*sin/d.Mass)
		dfdu.Set(4, col, dfdu.At(4, col)+scale*cos/d.Mass)
		dfdu.Set(5, col, dfdu.At(5, col)+scale*side*d.ArmLength/d.Inertia)
	}
	if m == 1 {
		rotor(0, onL, 0.5, -1)
		rotor(0, onR, 0.5, 1)
	} else {
		rotor(0, onL, 1, -1)
		rotor(1, onR, 1, 1)
	}
	return dfdx, dfdu
}

// HoverThrust is the per-rotor thrust that holds the drone level.
func (d *Drone) HoverThrust() float64 {
	return d.Mass * d.Gravity / 2.0
}

func (d *Drone) Energy(x dynamo.State) float64 {
	y, vx, vy, omega := x[1], x[3], x[4], x[5]
	translational := 0.5 * d.Mass * (vx*vx + vy*vy)
	rotational := 0.5 * d.Inertia * omega * omega
	return translational + rotational + d.Mass*d.Gravity*y
}

func (d *Drone) GetParams() map[string]float64 {
	return map[string]float64{
		"mass":       d.Mass,
		"gravity":    d.Gravity,
		"drag":       d.Drag,
		"ang_drag":   d.AngDrag,
		"arm_length": d.ArmLength,
		"inertia":    d.Inertia,
	}
}

func (d *Drone) SetParam(name string, value float64) error {
	positive := func(dst *float64) error {
		if value <= 0 {
			return fmt.Errorf("%s %v: %w", name, value, dynamo.ErrParameterBounds)
		}
		*dst = value
		return nil
	}
	switch name {
	case "mass":
		return positive(&d.Mass)
	case "inertia":
		return positive(&d.Inertia)
	case "arm_length":
		return positive(&d.ArmLength)
	case "gravity":
		d.Gravity = value
	case "drag":
		d.Drag = value
	case "ang_drag":
		d.AngDrag = value
	default:
		return fmt.Errorf("unknown param: %s", name)
	}
	return nil
}
