package bench

import "github.com/lox/pokerbench/internal/pool"

// schedulingPass repeatedly starts the single best eligible match until no
// more can be admitted, matching the source's startMatchJob loop that
// drains every startable match in one event before returning to select().
func (s *Server) schedulingPass() {
	for s.tryStartOne() {
	}
}

// tryStartOne finds the best eligible queued match and dispatches it. It
// returns false when nothing more can be started this pass — either the
// queue is empty of eligible work, or the best candidate would push total
// running bots over maxRunningBots. That second case aborts the whole pass
// rather than falling through to the next candidate: a smaller match
// further down the fairness order is never allowed to jump ahead of the
// one the policy actually chose.
func (s *Server) tryStartOne() bool {
	for _, h := range s.matches.Handles() {
		m, ok := s.matches.Get(h)
		if !ok || m.IsRunning || m.NumRuns > 0 {
			continue
		}
		s.matches.Remove(h)
	}

	var bestHandle pool.Handle
	var best *Match
	for _, h := range s.matches.Handles() {
		m, ok := s.matches.Get(h)
		if !ok || m.IsRunning {
			continue
		}
		if m.Game.MaxRunningJobs != 0 && m.Game.CurRunningJobs >= m.Game.MaxRunningJobs {
			continue
		}
		if best == nil || isFairerThan(&m, best) {
			mm := m
			best = &mm
			bestHandle = h
		}
	}
	if best == nil {
		return false
	}

	running := s.runningBotCount()
	if s.conf.MaxRunningBots != 0 && uint16(running+best.LocalBotCount()) > s.conf.MaxRunningBots {
		return false
	}

	seed := effectiveSeed(best)
	job, err := s.dispatchJob(bestHandle, best, seed)
	if err != nil {
		s.logger.Fatal().Err(err).Str("tag", best.Tag).Msg("match dispatch failed")
	}
	s.jobs.Add(job)

	best.Game.CurRunningJobs++
	best.IsRunning = true
	best.NumRuns--
	// A failed seat notification closes the connection, which zeroes the
	// stored match's numRuns; keep that rather than the pre-dispatch copy.
	if cur, ok := s.matches.Get(bestHandle); ok && cur.NumRuns == 0 {
		best.NumRuns = 0
	}
	best.User.WaitStart = s.clock.Now()
	best.QueueTime = s.clock.Now()
	s.matches.Set(bestHandle, *best)

	return true
}

// isFairerThan reports whether candidate should be preferred over current
// under the fairness policy: earliest user.waitStart wins, ties broken by
// earliest queueTime, remaining ties left with whichever was encountered
// first (candidate must be strictly better to displace current).
func isFairerThan(candidate, current *Match) bool {
	if candidate.User.WaitStart.Before(current.User.WaitStart) {
		return true
	}
	if candidate.User.WaitStart.After(current.User.WaitStart) {
		return false
	}
	return candidate.QueueTime.Before(current.QueueTime)
}

func (s *Server) runningBotCount() int {
	total := 0
	s.jobs.Each(func(_ pool.Handle, job MatchJob) {
		if m, ok := s.matches.Get(job.MatchHandle); ok {
			total += m.LocalBotCount()
		}
	})
	return total
}
