package routing

import (
	"context"
	"fmt"
	"strings"

	emailaddress "github.com/mcnijman/go-emailaddress"

	"github.com/academic360/notification-worker/internal/domain"
)

const (
	developerName     = "Developer"
	defaultStaffName  = "User"
	defaultStaffLimit = 500
)

// StaffDirectory lists the staff who receive every email in staging.
type StaffDirectory interface {
	ListStagingStaff(ctx context.Context, limit int) ([]domain.User, error)
}

// Policy decides who actually receives a job. The mode is fixed at
// construction so a running worker can never switch branches.
type Policy struct {
	mode       domain.RoutingMode
	developer  string
	staff      StaffDirectory
	staffLimit int
}

func NewPolicy(mode domain.RoutingMode, developer string, staff StaffDirectory, staffLimit int) (*Policy, error) {
	if !mode.IsValid() {
		return nil, domain.ErrInvalidRoutingMode
	}
	if strings.TrimSpace(developer) == "" {
		return nil, domain.ErrMissingDeveloper
	}
	if staffLimit <= 0 {
		staffLimit = defaultStaffLimit
	}
	return &Policy{mode: mode, developer: developer, staff: staff, staffLimit: staffLimit}, nil
}

func (p *Policy) Mode() domain.RoutingMode { return p.mode }

// Resolve returns the recipients for one job.
//
//	development: the developer address, always, ignoring meta.devOnly
//	staging:     every opted-in staff user; the developer when there are none
//	production:  the developer when meta.devOnly is set, else the addressee,
//	             else the developer when the addressee has no usable email
func (p *Policy) Resolve(ctx context.Context, c *domain.Content, addressee *domain.User) ([]domain.Recipient, error) {
	switch p.mode {
	case domain.ModeDevelopment:
		return []domain.Recipient{p.developerRecipient("")}, nil

	case domain.ModeStaging:
		staff, err := p.staff.ListStagingStaff(ctx, p.staffLimit)
		if err != nil {
			return nil, fmt.Errorf("list staging staff: %w", err)
		}
		if len(staff) == 0 {
			return []domain.Recipient{p.developerRecipient(developerName)}, nil
		}
		recipients := make([]domain.Recipient, 0, len(staff))
		for _, u := range staff {
			name := u.Name
			if name == "" {
				name = defaultStaffName
			}
			recipients = append(recipients, domain.Recipient{
				Address:     p.addressOrDeveloper(u.Email),
				DisplayName: name,
			})
		}
		return recipients, nil

	case domain.ModeProduction:
		if c != nil && c.DevOnly {
			return []domain.Recipient{p.developerRecipient("")}, nil
		}
		if addressee == nil {
			return []domain.Recipient{p.developerRecipient("")}, nil
		}
		addr := p.addressOrDeveloper(addressee.Email)
		name := addressee.Name
		if addr == p.developer {
			name = ""
		}
		return []domain.Recipient{{Address: addr, DisplayName: name}}, nil
	}

	return nil, domain.ErrInvalidRoutingMode
}

func (p *Policy) developerRecipient(name string) domain.Recipient {
	return domain.Recipient{Address: p.developer, DisplayName: name}
}

// addressOrDeveloper returns addr when it parses as an email address with a
// dotted domain.
func (p *Policy) addressOrDeveloper(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return p.developer
	}
	// Parse's pattern lets a bare "local@" through.
	parsed, err := emailaddress.Parse(addr)
	if err != nil || parsed.LocalPart == "" || !strings.Contains(parsed.Domain, ".") {
		return p.developer
	}
	return addr
}
