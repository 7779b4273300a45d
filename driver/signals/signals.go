// Package signals binds process signals to latches and sends notifications
// between producers and the consumer.
package signals

import (
	"os"
	"os/signal"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/a-dubinin/bsuir-os-interprocess-communication/base/metrics"

	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/latch"
)

const (
	StartWrite = unix.SIGUSR2
	StartRead  = unix.SIGUSR1
)

var (
	watched = []os.Signal{StartWrite, StartRead}

	sigMetrics = struct {
		received  prometheus.Counter
		unhandled prometheus.Counter
	}{
		received: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.SignalsReceivedN,
			Help: metrics.SignalsReceivedH,
		}),
		unhandled: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.SignalsUnhandledN,
			Help: metrics.SignalsUnhandledH,
		}),
	}
)

// Channel routes StartWrite and StartRead to the latches bound to them. Both
// signals are always caught so that a stray one cannot terminate the
// process.
type Channel struct {
	log      *zap.Logger
	bindings map[os.Signal]*latch.Latch
	c        chan os.Signal
	wg       sync.WaitGroup
	stop     sync.Once
}

func Listen(log *zap.Logger, bindings map[os.Signal]*latch.Latch) *Channel {
	ch := &Channel{
		log:      log,
		bindings: bindings,
		c:        make(chan os.Signal, len(watched)),
	}
	signal.Notify(ch.c, watched...)
	ch.wg.Add(1)
	go ch.dispatch()
	return ch
}

func (ch *Channel) dispatch() {
	defer ch.wg.Done()
	for sig := range ch.c {
		ch.deliver(sig)
	}
}

func (ch *Channel) deliver(sig os.Signal) {
	sigMetrics.received.Inc()
	l, ok := ch.bindings[sig]
	if !ok {
		sigMetrics.unhandled.Inc()
		ch.log.Info("ignoring signal without latch", zap.Stringer("signal", sig))
		return
	}
	if l.Set() {
		ch.log.Debug("latch set", zap.String("latch", l.Name()), zap.Stringer("signal", sig))
	} else {
		ch.log.Debug("latch already set", zap.String("latch", l.Name()), zap.Stringer("signal", sig))
	}
}

// Stop detaches the channel from signal delivery and waits for the
// dispatcher to exit. Signals arriving afterwards are handled by the runtime
// default.
func (ch *Channel) Stop() {
	ch.stop.Do(func() {
		signal.Stop(ch.c)
		close(ch.c)
		ch.wg.Wait()
	})
}

type Notifier interface {
	Notify() error
}

// ProcessNotifier sends Signal to the process Pid.
type ProcessNotifier struct {
	Pid    int
	Signal unix.Signal
}

func (n ProcessNotifier) Notify() error {
	return unix.Kill(n.Pid, n.Signal)
}

// LatchNotifier sets a latch in the current process.
type LatchNotifier struct {
	Latch *latch.Latch
}

func (n LatchNotifier) Notify() error {
	n.Latch.Set()
	return nil
}

// Parent returns a notifier that signals the parent process.
func Parent(sig unix.Signal) ProcessNotifier {
	return ProcessNotifier{Pid: unix.Getppid(), Signal: sig}
}
