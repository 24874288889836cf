package storage

import (
	"fmt"

	"github.com/oktetlabs/test-environment-sub007/internal/models"
)

// Repository owns every configured Acs and, through them, every Cpe. It is
// owned by the event loop and not safe for concurrent use.
type Repository struct {
	acs []*models.Acs
}

func NewRepository() *Repository {
	return &Repository{}
}

// Acs finds an ACS by name.
func (r *Repository) Acs(name string) (*models.Acs, error) {
	for _, a := range r.acs {
		if a.Name == name {
			return a, nil
		}
	}
	return nil, fmt.Errorf("acs %s: %w", name, models.ErrNoSuchAcs)
}

// Cpe finds a CPE by ACS and CPE name.
func (r *Repository) Cpe(acsName, cpeName string) (*models.Cpe, error) {
	a, err := r.Acs(acsName)
	if err != nil {
		return nil, err
	}
	return a.Cpe(cpeName)
}

// AddAcs creates an ACS with default settings.
func (r *Repository) AddAcs(name string) (*models.Acs, error) {
	if name == "" {
		return nil, fmt.Errorf("empty acs name: %w", models.ErrInvalid)
	}
	if _, err := r.Acs(name); err == nil {
		return nil, fmt.Errorf("acs %s exists: %w", name, models.ErrConfigConflict)
	}
	a := models.NewAcs(name)
	r.acs = append(r.acs, a)
	return a, nil
}

// DelAcs removes an ACS that is not listening.
func (r *Repository) DelAcs(name string) error {
	for i, a := range r.acs {
		if a.Name != name {
			continue
		}
		if a.Listening {
			return fmt.Errorf("acs %s is enabled: %w", name, models.ErrConfigConflict)
		}
		for _, c := range a.Cpes {
			c.Reset()
		}
		r.acs = append(r.acs[:i], r.acs[i+1:]...)
		return nil
	}
	return fmt.Errorf("acs %s: %w", name, models.ErrNoSuchAcs)
}

// List returns the ACS list in creation order.
func (r *Repository) List() []*models.Acs {
	return r.acs
}

// PortInUse reports whether another listening ACS holds port.
func (r *Repository) PortInUse(port int, except *models.Acs) bool {
	for _, a := range r.acs {
		if a != except && a.Listening && a.Port == port {
			return true
		}
	}
	return false
}
