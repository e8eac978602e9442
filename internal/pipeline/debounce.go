package pipeline

import "time"

type fired struct {
	key string
	gen uint64
}

// Debounce coalesces bursts of keys: a key is emitted once no new occurrence
// of it has arrived for delay. Pending keys are flushed when inCh closes.
func Debounce(inCh <-chan string, delay time.Duration) <-chan string {
	outCh := make(chan string, cap(inCh))

	go func() {
		defer close(outCh)

		done := make(chan struct{})
		defer close(done)

		firedCh := make(chan fired)
		timers := make(map[string]*time.Timer)
		gens := make(map[string]uint64)

		for {
			select {
			case key, ok := <-inCh:
				if !ok {
					for k, t := range timers {
						t.Stop()
						outCh <- k
					}
					return
				}

				if t, ok := timers[key]; ok {
					t.Stop()
				}

				gens[key]++
				gen := gens[key]
				timers[key] = time.AfterFunc(delay, func() {
					select {
					case firedCh <- fired{key: key, gen: gen}:
					case <-done:
					}
				})

			case f := <-firedCh:
				if gens[f.key] != f.gen {
					continue
				}
				delete(timers, f.key)
				delete(gens, f.key)
				outCh <- f.key
			}
		}
	}()

	return outCh
}
