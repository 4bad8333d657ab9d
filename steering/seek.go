package steering

import (
	"gonum.org/v1/gonum/spatial/r2"
)

// SeekForce steers self toward p at full speed.
func SeekForce(self Kinematics, p r2.Vec) r2.Vec {
	desired := r2.Scale(self.MaxSpeed, UnitOrZero(r2.Sub(p, self.Position)))
	return r2.Sub(desired, self.Velocity)
}

// FleeForce steers self directly away from p at full speed.
func FleeForce(self Kinematics, p r2.Vec) r2.Vec {
	desired := r2.Scale(self.MaxSpeed, UnitOrZero(r2.Sub(self.Position, p)))
	return r2.Sub(desired, self.Velocity)
}

// ArriveForce steers self toward p, ramping the desired speed down linearly
// inside slowingDistance. At p itself the result is zero.
func ArriveForce(self Kinematics, p r2.Vec, slowingDistance float64) r2.Vec {
	to := r2.Sub(p, self.Position)
	dist := r2.Norm(to)
	if dist < epsilon {
		return r2.Vec{}
	}

	speed := self.MaxSpeed
	if slowingDistance > 0 && dist < slowingDistance {
		speed = self.MaxSpeed * dist / slowingDistance
	}
	desired := r2.Scale(speed/dist, to)
	return r2.Sub(desired, self.Velocity)
}

// EvadeForce flees the position pursuer is predicted to reach by the time
// self could cover the distance between them.
func EvadeForce(self, pursuer Kinematics) r2.Vec {
	dist := r2.Norm(r2.Sub(pursuer.Position, self.Position))
	lookAhead := 0.0
	if self.MaxSpeed > epsilon {
		lookAhead = dist / self.MaxSpeed
	}
	predicted := r2.Add(pursuer.Position, r2.Scale(lookAhead, pursuer.Velocity))
	return FleeForce(self, predicted)
}

// PursuitForce seeks the position evader is predicted to reach. An evader
// that is ahead and facing self is sought directly.
func PursuitForce(self, evader Kinematics) r2.Vec {
	to := r2.Sub(evader.Position, self.Position)
	relHeading := r2.Dot(self.Heading, evader.Heading)
	if r2.Dot(to, self.Heading) > 0 && relHeading < -0.95 {
		return SeekForce(self, evader.Position)
	}

	lookAhead := 0.0
	if closing := self.MaxSpeed + evader.Speed(); closing > epsilon {
		lookAhead = r2.Norm(to) / closing
	}
	return SeekForce(self, r2.Add(evader.Position, r2.Scale(lookAhead, evader.Velocity)))
}

// Seek steers toward a target at full speed.
type Seek struct {
	Target Target
}

func (s *Seek) Kind() Kind   { return KindSeek }
func (s *Seek) Needs() Needs { return s.Target.needs() }

func (s *Seek) Velocity(in *Input) r2.Vec {
	t, ok := s.Target.resolve(in)
	if !ok {
		return r2.Vec{}
	}
	return SeekForce(in.Self, t.Position)
}

// Flee steers away from a target. A positive PanicDistance limits the
// behavior to targets closer than that distance.
type Flee struct {
	Target        Target
	PanicDistance float64
}

func (f *Flee) Kind() Kind   { return KindFlee }
func (f *Flee) Needs() Needs { return f.Target.needs() }

func (f *Flee) Velocity(in *Input) r2.Vec {
	t, ok := f.Target.resolve(in)
	if !ok {
		return r2.Vec{}
	}
	if f.PanicDistance > 0 && r2.Norm2(r2.Sub(t.Position, in.Self.Position)) > f.PanicDistance*f.PanicDistance {
		return r2.Vec{}
	}
	return FleeForce(in.Self, t.Position)
}

// Arrive steers toward a target and comes to rest on it.
type Arrive struct {
	Target          Target
	SlowingDistance float64
}

func (a *Arrive) Kind() Kind   { return KindArrive }
func (a *Arrive) Needs() Needs { return a.Target.needs() }

func (a *Arrive) Velocity(in *Input) r2.Vec {
	t, ok := a.Target.resolve(in)
	if !ok {
		return r2.Vec{}
	}
	return ArriveForce(in.Self, t.Position, a.SlowingDistance)
}

// Pursuit intercepts a moving target.
type Pursuit struct {
	Target Target
}

func (p *Pursuit) Kind() Kind   { return KindPursuit }
func (p *Pursuit) Needs() Needs { return p.Target.needs() }

func (p *Pursuit) Velocity(in *Input) r2.Vec {
	t, ok := p.Target.resolve(in)
	if !ok {
		return r2.Vec{}
	}
	return PursuitForce(in.Self, t)
}

// Evade flees the predicted position of a pursuer.
type Evade struct {
	Target Target
}

func (e *Evade) Kind() Kind   { return KindEvade }
func (e *Evade) Needs() Needs { return e.Target.needs() }

func (e *Evade) Velocity(in *Input) r2.Vec {
	t, ok := e.Target.resolve(in)
	if !ok {
		return r2.Vec{}
	}
	return EvadeForce(in.Self, t)
}
