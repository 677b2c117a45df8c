package cmn

import "github.com/golang/glog"

// Named gives a Runner a mutable name, set once by the rungroup that owns
// it and read back for logging.
type Named struct {
	name string
}

func (n *Named) Setname(name string) { n.name = name }
func (n *Named) Getname() string     { return n.name }

// Runner is the lifecycle contract every long-running component of the
// engine implements: a blocking Run that returns on fatal error or on
// Stop, and a Stop that is safe to call once from another goroutine.
type Runner interface {
	Setname(string)
	Getname() string
	Run() error
	Stop(error)
}

// Rungroup launches a fixed set of Runners and waits for the first one to
// exit; on exit it stops every other runner and drains their exit codes.
// Mirrors the aistore daemon's top-level supervision loop.
type Rungroup struct {
	runarr []Runner
	runmap map[string]Runner
	errCh  chan error
	stopCh chan error
}

func NewRungroup() *Rungroup {
	return &Rungroup{
		runarr: make([]Runner, 0, 4),
		runmap: make(map[string]Runner, 4),
	}
}

func (g *Rungroup) Add(r Runner, name string) {
	r.Setname(name)
	g.runarr = append(g.runarr, r)
	g.runmap[name] = r
}

func (g *Rungroup) Get(name string) Runner { return g.runmap[name] }

func (g *Rungroup) Run() error {
	if len(g.runarr) == 0 {
		return nil
	}
	g.errCh = make(chan error, len(g.runarr))
	g.stopCh = make(chan error, 1)
	for _, r := range g.runarr {
		go func(r Runner) {
			err := r.Run()
			glog.Warningf("runner [%s] exited with err [%v]", r.Getname(), err)
			g.errCh <- err
		}(r)
	}

	err := <-g.errCh
	for _, r := range g.runarr {
		r.Stop(err)
	}
	for i := 0; i < cap(g.errCh)-1; i++ {
		<-g.errCh
	}
	glog.Flush()
	g.stopCh <- nil
	return err
}
