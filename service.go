package phd

import (
	"fmt"
	"sync"
	"time"

	"github.com/signove/phd-manager/dataapdu"
)

// maxPendingRequests is the invoke-id ring size: an interop ceiling, not
// a hard protocol limit. See DESIGN.md.
const maxPendingRequests = 16

// Request is a handle to one outstanding roiv, returned by
// Service.SendRequest. OnComplete runs with the matching Data-APDU, or
// nil if the request timed out.
type Request struct {
	InvokeID   uint16
	OnComplete func(*dataapdu.DataAPDU)

	timer *time.Timer
}

// Service pairs invoke-ids with pending requests for one Context. The
// FSM that drives a Context is single-threaded, so the mutex here only
// has to defend against the timer goroutine racing a concurrent
// SendRequest/OnResponse call.
type Service struct {
	mu      sync.Mutex
	nextID  uint16
	pending map[uint16]*Request
}

func newService() *Service {
	return &Service{nextID: 1, pending: map[uint16]*Request{}}
}

// SendRequest allocates a free invoke-id, registers onComplete, and
// starts a per-request timer; it does not itself transmit anything —
// callers encode the returned invoke-id into a Data-APDU and hand it to
// the transport.
func (s *Service) SendRequest(timeout time.Duration, onTimeout func(), onComplete func(*dataapdu.DataAPDU)) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) >= maxPendingRequests {
		return nil, fmt.Errorf("phd: invoke-id ring full (%d pending)", maxPendingRequests)
	}
	var id uint16
	for {
		id = s.nextID
		s.nextID++
		if id == 0 {
			// wrapped past 0: invoke-ids are never zero.
			continue
		}
		if _, taken := s.pending[id]; !taken {
			break
		}
	}
	req := &Request{InvokeID: id, OnComplete: onComplete}
	req.timer = time.AfterFunc(timeout, func() {
		s.mu.Lock()
		_, stillPending := s.pending[id]
		delete(s.pending, id)
		s.mu.Unlock()
		if stillPending {
			if onComplete != nil {
				onComplete(nil)
			}
			if onTimeout != nil {
				onTimeout()
			}
		}
	})
	s.pending[id] = req
	return req, nil
}

// OnResponse matches data.InvokeID against the pending ring. ok is false
// if the invoke-id is unknown, in which case the caller (the FSM) must
// abort the association per spec.
func (s *Service) OnResponse(data *dataapdu.DataAPDU) (*Request, bool) {
	s.mu.Lock()
	req, ok := s.pending[data.InvokeID]
	if ok {
		delete(s.pending, data.InvokeID)
	}
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	req.timer.Stop()
	if req.OnComplete != nil {
		req.OnComplete(data)
	}
	return req, true
}

// CheckKnownInvokeID reports whether invokeID currently has a pending
// request, without completing it or freeing its slot.
func (s *Service) CheckKnownInvokeID(invokeID uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[invokeID]
	return ok
}

// cancelAll stops every pending timer and fails every outstanding
// request, used when a Context is destroyed.
func (s *Service) cancelAll() {
	s.mu.Lock()
	pending := make([]*Request, 0, len(s.pending))
	for _, req := range s.pending {
		pending = append(pending, req)
	}
	s.pending = map[uint16]*Request{}
	s.mu.Unlock()
	for _, req := range pending {
		req.timer.Stop()
		if req.OnComplete != nil {
			req.OnComplete(nil)
		}
	}
}
