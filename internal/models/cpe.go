package models

import (
	"fmt"
	"time"

	"github.com/oktetlabs/test-environment-sub007/internal/arena"
	"github.com/oktetlabs/test-environment-sub007/internal/rpcqueue"
	"github.com/oktetlabs/test-environment-sub007/pkg/cwmp"
)

// CRState tracks a Connection Request issued to the CPE.
type CRState int

const (
	CRNone CRState = iota
	CRPending
	CRDone
	CRFail
)

func (s CRState) String() string {
	switch s {
	case CRNone:
		return "none"
	case CRPending:
		return "pending"
	case CRDone:
		return "done"
	case CRFail:
		return "fail"
	}
	return fmt.Sprintf("cr(%d)", int(s))
}

// Credentials is a login/password pair.
type Credentials struct {
	Login    string `json:"login"`
	Password string `json:"-"`
}

// InformRecord is one received Inform with its own arena.
type InformRecord struct {
	RequestID  uint32
	Inform     *cwmp.Inform
	Arena      *arena.Arena
	ReceivedAt time.Time
}

// Cpe is a device known to one ACS.
type Cpe struct {
	Acs  *Acs
	Name string

	AcsAuth Credentials
	CRAuth  Credentials
	URL     string
	Cert    string

	HoldRequests bool
	SyncMode     bool
	ChunkMode    bool
	TrafficLog   bool
	Enabled      bool

	CRState      CRState
	HTTPResponse *HTTPResponse
	DeviceID     cwmp.DeviceIdStruct

	Informs      []*InformRecord
	lastInformID uint32

	Queue *rpcqueue.Queue

	// Session is the bound session, nil when none.
	Session SessionHandle
}

// NewCpe returns an enabled CPE owned by acs.
func NewCpe(acs *Acs, name string) *Cpe {
	return &Cpe{
		Acs:     acs,
		Name:    name,
		Enabled: true,
		Queue:   rpcqueue.New(),
	}
}

// FullName returns "acs/cpe".
func (c *Cpe) FullName() string {
	if c.Acs == nil {
		return c.Name
	}
	return c.Acs.Name + "/" + c.Name
}

// AddInform records an Inform as the most recent one. size is the
// accounted size of the decoded value.
func (c *Cpe) AddInform(inform *cwmp.Inform, size int) (*InformRecord, error) {
	a := arena.New("inform", 0)
	if err := a.Hold(inform, size); err != nil {
		a.Free()
		return nil, fmt.Errorf("record inform: %w", err)
	}

	c.lastInformID++
	rec := &InformRecord{
		RequestID:  c.lastInformID,
		Inform:     inform,
		Arena:      a,
		ReceivedAt: time.Now(),
	}
	c.Informs = append([]*InformRecord{rec}, c.Informs...)
	return rec, nil
}

// InformByID returns the Inform with the given id; zero means the latest.
func (c *Cpe) InformByID(id uint32) (*InformRecord, error) {
	if len(c.Informs) == 0 {
		return nil, fmt.Errorf("cpe %s: no inform yet: %w", c.FullName(), ErrNotReady)
	}
	if id == 0 {
		return c.Informs[0], nil
	}
	for _, rec := range c.Informs {
		if rec.RequestID == id {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("cpe %s: inform %d: %w", c.FullName(), id, ErrNoSuchRpc)
}

// Reset frees the Inform history and every queued or completed RPC.
func (c *Cpe) Reset() {
	for _, rec := range c.Informs {
		rec.Arena.Free()
	}
	c.Informs = nil
	c.Queue.Reset()
}
