package queue

// Model is an M/M/1 view of one provider's queue: Poisson arrivals at
// Lambda per hour, exponential service at Mu per hour, a single server.
// All closed-form results are gated on Stable(); callers must fall back to
// the heuristic wait path when the queue is saturated.
type Model struct {
	Lambda float64 // arrival rate, patients/hour
	Mu     float64 // service rate, patients/hour
}

// Utilization is rho = lambda/mu. Defined (and meaningful) even when the
// queue is unstable; returns 0 when mu is not positive.
func (m Model) Utilization() float64 {
	if m.Mu <= 0 {
		return 0
	}
	return m.Lambda / m.Mu
}

// Stable reports whether the closed-form steady-state results exist
// (rho < 1 with positive rates).
func (m Model) Stable() bool {
	return m.Lambda >= 0 && m.Mu > 0 && m.Lambda < m.Mu
}

// AvgInSystem is L = rho/(1-rho): expected patients present, waiting or
// in service. Zero when unstable.
func (m Model) AvgInSystem() float64 {
	if !m.Stable() {
		return 0
	}
	rho := m.Utilization()
	return rho / (1 - rho)
}

// AvgInQueue is Lq = rho^2/(1-rho): expected patients waiting.
func (m Model) AvgInQueue() float64 {
	if !m.Stable() {
		return 0
	}
	rho := m.Utilization()
	return rho * rho / (1 - rho)
}

// AvgWaitInSystem is W = 1/(mu-lambda) in hours.
func (m Model) AvgWaitInSystem() float64 {
	if !m.Stable() {
		return 0
	}
	return 1 / (m.Mu - m.Lambda)
}

// AvgWaitInQueue is Wq = rho/(mu-lambda) in hours.
func (m Model) AvgWaitInQueue() float64 {
	if !m.Stable() {
		return 0
	}
	return m.Utilization() / (m.Mu - m.Lambda)
}

// HeuristicWaitMinutes is the fallback estimate used when the queue is
// saturated: average historical per-patient service minutes times the
// number of patients ahead. Always finite and non-negative.
func HeuristicWaitMinutes(avgServiceMinutes float64, patientsAhead int) float64 {
	if avgServiceMinutes < 0 || patientsAhead <= 0 {
		return 0
	}
	return avgServiceMinutes * float64(patientsAhead)
}
