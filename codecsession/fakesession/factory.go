package fakesession

import (
	"context"
	"sync"

	"github.com/xaionaro-go/codecdriver/codecsession"
)

type Factory struct {
	Params   Params
	Counters *Counters
	FailNew  error

	locker   sync.Mutex
	sessions []*Session
}

var _ codecsession.Factory = (*Factory)(nil)

func NewFactory(params Params) *Factory {
	return &Factory{
		Params:   params,
		Counters: &Counters{},
	}
}

func (f *Factory) NewSession(
	ctx context.Context,
	desc codecsession.Descriptor,
	listener codecsession.Listener,
) (codecsession.Session, error) {
	f.Counters.NewSession.Inc()
	if f.FailNew != nil {
		return nil, codecsession.ErrResource{Err: f.FailNew}
	}
	s := New(ctx, f.Params, f.Counters)
	s.Descriptor = desc
	s.Listener = listener
	f.locker.Lock()
	defer f.locker.Unlock()
	f.sessions = append(f.sessions, s)
	return s, nil
}

// Sessions returns every session created so far.
func (f *Factory) Sessions() []*Session {
	f.locker.Lock()
	defer f.locker.Unlock()
	return append([]*Session(nil), f.sessions...)
}

func (f *Factory) LastSession() *Session {
	f.locker.Lock()
	defer f.locker.Unlock()
	if len(f.sessions) == 0 {
		return nil
	}
	return f.sessions[len(f.sessions)-1]
}
