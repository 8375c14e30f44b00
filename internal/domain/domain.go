package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RolePatient  Role = "patient"
	RoleProvider Role = "provider"
	RoleOwner    Role = "owner"
)

func (r Role) IsValid() bool {
	switch r {
	case RolePatient, RoleProvider, RoleOwner:
		return true
	}
	return false
}

// Principal identifies a wallet-controlled account (patient, provider or contract owner).
// It is a Stacks c32check address; use session.ParsePrincipal to obtain a validated value.
type Principal string

func (p Principal) String() string {
	return string(p)
}

// Short renders the principal the way dashboards display it: ST1P...GZGM.
func (p Principal) Short() string {
	s := string(p)
	if len(s) <= 8 {
		return s
	}
	return s[:4] + "..." + s[len(s)-4:]
}

func (p Principal) IsZero() bool {
	return strings.TrimSpace(string(p)) == ""
}

// Profile is the typed view of the signed-in wallet user. Role is display-only:
// state-changing operations are authorized by the contract, never by Role.
type Profile struct {
	Principal Principal `json:"principal"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email,omitempty"`
	Role      Role      `json:"role"`
	// RoleDefaulted is true when the wallet did not carry a role and RolePatient was assumed.
	RoleDefaulted bool      `json:"role_defaulted"`
	SignedInAt    time.Time `json:"signed_in_at"`
}

func (p *Profile) DisplayName() string {
	if strings.TrimSpace(p.Name) != "" {
		return p.Name
	}
	return p.Principal.Short()
}

type AuditAction string

const (
	ActionRegister AuditAction = "register"
	ActionRead     AuditAction = "read"
	ActionPublish  AuditAction = "publish"
	ActionRequest  AuditAction = "request_access"
	ActionGrant    AuditAction = "grant_access"
	ActionRevoke   AuditAction = "revoke_access"
	ActionSignIn   AuditAction = "sign_in"
	ActionSignOut  AuditAction = "sign_out"
)

type AuditLog struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	OccurredAt time.Time `gorm:"autoCreateTime;index"`

	// Who
	Principal string `gorm:"column:principal;type:varchar(128);not null;index"`
	Role      Role   `gorm:"column:role;type:varchar(30);not null"`

	// What
	Action    AuditAction `gorm:"column:action;type:varchar(30);not null;index"`
	PatientID string      `gorm:"column:patient_id;type:varchar(64);index"`
	Subject   string      `gorm:"column:subject;type:varchar(128)"` // provider principal or content id

	TxID      string `gorm:"column:tx_id;type:varchar(80);index"`
	Outcome   string `gorm:"column:outcome;type:varchar(20);not null"`
	RequestID string `gorm:"column:request_id;type:varchar(50);index"`

	Detail string `gorm:"column:detail;type:jsonb"`
}

func (AuditLog) TableName() string {
	return "audit.logs"
}
