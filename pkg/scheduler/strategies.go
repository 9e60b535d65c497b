package scheduler

// EqualStrategy divides each global resource equally across active
// projects, clamps each to its declared cap, and redistributes the
// clamped-away remainder to the projects that have not yet hit their own
// ceiling (spec.md §4.5).
type EqualStrategy struct{}

func (EqualStrategy) Name() string { return string(StrategyEqual) }

func (EqualStrategy) Allocate(projects []ProjectInput, caps GlobalCaps, _ map[string]Quota) map[string]Quota {
	n := len(projects)
	out := make(map[string]Quota, n)
	if n == 0 {
		return out
	}

	baseAgents := caps.MaxAgents / n
	baseMemory := caps.MaxMemory / int64(n)
	baseDisk := caps.MaxDisk / int64(n)
	baseCPU := 1.0 / float64(n)

	byID := make(map[string]ProjectInput, n)
	for _, p := range projects {
		byID[p.ID] = p
	}

	for _, id := range sortedIDs(projects) {
		p := byID[id]
		q := Quota{
			AllocatedAgents:   baseAgents,
			AllocatedMemory:   baseMemory,
			AllocatedDisk:     baseDisk,
			AllocatedCPUShare: baseCPU,
		}
		out[id] = clampQuota(q, p.Caps)
	}

	redistributeRemainder(out, byID, caps)
	enforceMinShare(out, byID, caps)
	return out
}

// WeightedByPriorityStrategy allocates proportional to
// priority-weight x cpu_weight, clamps, then redistributes the residue the
// same way EqualStrategy does.
type WeightedByPriorityStrategy struct{}

func (WeightedByPriorityStrategy) Name() string { return string(StrategyWeightedByPriority) }

func (WeightedByPriorityStrategy) Allocate(projects []ProjectInput, caps GlobalCaps, _ map[string]Quota) map[string]Quota {
	out := make(map[string]Quota, len(projects))
	if len(projects) == 0 {
		return out
	}

	byID := make(map[string]ProjectInput, len(projects))
	totalWeight := 0.0
	for _, p := range projects {
		byID[p.ID] = p
		w := float64(p.Priority.Weight())
		if p.Caps.CPUWeight > 0 {
			w *= p.Caps.CPUWeight
		}
		totalWeight += w
	}
	if totalWeight == 0 {
		totalWeight = 1
	}

	for _, id := range sortedIDs(projects) {
		p := byID[id]
		w := float64(p.Priority.Weight())
		if p.Caps.CPUWeight > 0 {
			w *= p.Caps.CPUWeight
		}
		share := w / totalWeight
		q := Quota{
			AllocatedAgents:   int(share * float64(caps.MaxAgents)),
			AllocatedMemory:   int64(share * float64(caps.MaxMemory)),
			AllocatedDisk:     int64(share * float64(caps.MaxDisk)),
			AllocatedCPUShare: share,
		}
		out[id] = clampQuota(q, p.Caps)
	}

	redistributeRemainder(out, byID, caps)
	enforceMinShare(out, byID, caps)
	return out
}

// UsageDrivenStrategy starts from the previous allocation and shifts
// resource from low-pressure projects to high-pressure ones each tick,
// capped per tick at MaxShiftFraction to avoid oscillation (spec.md §4.5).
type UsageDrivenStrategy struct {
	LowThreshold     float64 // default 0.4
	HighThreshold    float64 // default 0.85
	MaxShiftFraction float64 // default 0.15
}

func (s *UsageDrivenStrategy) Name() string { return string(StrategyUsageDriven) }

func (s *UsageDrivenStrategy) defaults() (low, high, shift float64) {
	low, high, shift = s.LowThreshold, s.HighThreshold, s.MaxShiftFraction
	if low == 0 {
		low = 0.4
	}
	if high == 0 {
		high = 0.85
	}
	if shift == 0 {
		shift = 0.15
	}
	return
}

func (s *UsageDrivenStrategy) Allocate(projects []ProjectInput, caps GlobalCaps, previous map[string]Quota) map[string]Quota {
	if len(previous) == 0 {
		return EqualStrategy{}.Allocate(projects, caps, previous)
	}
	low, high, maxShift := s.defaults()

	byID := make(map[string]ProjectInput, len(projects))
	for _, p := range projects {
		byID[p.ID] = p
	}

	out := make(map[string]Quota, len(projects))
	for id, q := range previous {
		if _, active := byID[id]; active {
			out[id] = q
		}
	}
	for _, id := range sortedIDs(projects) {
		if _, ok := out[id]; !ok {
			out[id] = EqualStrategy{}.Allocate(projects, caps, nil)[id]
		}
	}

	var donors, needers []string
	for _, id := range sortedIDs(projects) {
		p := byID[id]
		q := out[id]
		pressure := memoryPressure(p, q)
		switch {
		case pressure < low:
			donors = append(donors, id)
		case pressure > high:
			needers = append(needers, id)
		}
	}

	for _, neederID := range needers {
		for _, donorID := range donors {
			donor := out[donorID]
			shiftAmount := int64(float64(donor.AllocatedMemory) * maxShift)
			if shiftAmount <= 0 {
				continue
			}
			donor.AllocatedMemory -= shiftAmount
			needer := out[neederID]
			needer.AllocatedMemory += shiftAmount
			out[donorID] = donor
			out[neederID] = clampQuota(needer, byID[neederID].Caps)
		}
	}

	enforceMinShare(out, byID, caps)
	return out
}

func memoryPressure(p ProjectInput, q Quota) float64 {
	if q.AllocatedMemory == 0 {
		return 0
	}
	return float64(p.UsageMemory) / float64(q.AllocatedMemory)
}

// redistributeRemainder hands clamped-away agent slots back to projects that
// have not hit their own cap, in priority order, so the global ceiling is
// still respected but no capacity is wasted.
func redistributeRemainder(out map[string]Quota, byID map[string]ProjectInput, caps GlobalCaps) {
	used := 0
	for _, q := range out {
		used += q.AllocatedAgents
	}
	remainder := caps.MaxAgents - used
	if remainder <= 0 {
		return
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sortByPriorityDesc(ids, byID)

	for _, id := range ids {
		if remainder <= 0 {
			break
		}
		p := byID[id]
		q := out[id]
		if p.Caps.MaxAgents > 0 && q.AllocatedAgents >= p.Caps.MaxAgents {
			continue
		}
		q.AllocatedAgents++
		out[id] = q
		remainder--
	}
}

// enforceMinShare tops up any project below the configured floor, so long as
// doing so does not exceed that project's own cap. It never decreases
// another project's allocation to do so — spec.md's no-starvation property
// is a floor guarantee, not a rebalancing guarantee within one tick.
func enforceMinShare(out map[string]Quota, byID map[string]ProjectInput, caps GlobalCaps) {
	if caps.MinShareFraction <= 0 {
		return
	}
	floorAgents := int(caps.MinShareFraction * float64(caps.MaxAgents))
	for id, q := range out {
		p := byID[id]
		if q.AllocatedAgents < floorAgents {
			q.AllocatedAgents = floorAgents
			out[id] = clampQuota(q, p.Caps)
		}
	}
}

func sortByPriorityDesc(ids []string, byID map[string]ProjectInput) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && byID[ids[j]].Priority.Weight() > byID[ids[j-1]].Priority.Weight(); j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}
