package db

import "time"

type RegistrationModel struct {
	ID            string    `gorm:"type:uuid;primaryKey"`
	SPIFFEID      string    `gorm:"column:spiffe_id;index;not null"`
	SelectorsJSON []byte    `gorm:"type:jsonb;not null"`
	TTLSeconds    int64     `gorm:"not null"`
	ScopesJSON    []byte    `gorm:"type:jsonb"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (RegistrationModel) TableName() string {
	return "registrations"
}

type SigningKeyModel struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	KID       string `gorm:"column:kid;uniqueIndex;not null"`
	Purpose   string `gorm:"not null"`
	Alg       string `gorm:"not null"`
	PublicKey []byte `gorm:"type:bytea;not null"`
	CertDER   []byte `gorm:"column:cert_der;type:bytea"`
	Status    string `gorm:"index;not null"`
	RetireAt  *time.Time
	CreatedAt time.Time `gorm:"not null"`
}

func (SigningKeyModel) TableName() string {
	return "signing_keys"
}

type RevocationModel struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	SubjectID string    `gorm:"index;not null"`
	RevokedAt time.Time `gorm:"index;not null"`
	Reason    string
	CreatedAt time.Time `gorm:"not null"`
}

func (RevocationModel) TableName() string {
	return "revocations"
}

type RevocationEpochModel struct {
	TrustDomain string    `gorm:"primaryKey"`
	Epoch       int64     `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (RevocationEpochModel) TableName() string {
	return "revocation_epoch"
}

type PeerBundleModel struct {
	TrustDomain string    `gorm:"primaryKey"`
	Sequence    int64     `gorm:"not null"`
	Payload     []byte    `gorm:"type:bytea;not null"`
	SignerKID   string    `gorm:"column:signer_kid;not null"`
	Signature   []byte    `gorm:"type:bytea;not null"`
	State       string    `gorm:"not null"`
	Endpoint    string    `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (PeerBundleModel) TableName() string {
	return "peer_bundles"
}

type PolicyRuleModel struct {
	ID              string `gorm:"type:uuid;primaryKey"`
	Effect          string `gorm:"not null"`
	SubjectPattern  string `gorm:"not null"`
	ActionPattern   string `gorm:"not null"`
	ResourcePattern string `gorm:"not null"`
	Condition       string
	CreatedAt       time.Time `gorm:"not null"`
}

func (PolicyRuleModel) TableName() string {
	return "policy_rules"
}

type PolicyVersionModel struct {
	TrustDomain string    `gorm:"primaryKey"`
	Version     int64     `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (PolicyVersionModel) TableName() string {
	return "policy_version"
}

type AuditEventModel struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	EventType   string `gorm:"column:event_type;index;not null"`
	ActorType   string `gorm:"not null"`
	ActorIDHash *string
	TargetType  string `gorm:"not null"`
	TargetID    *string
	Result      string `gorm:"not null"`
	ErrorCode   *string
	Reason      string
	PayloadJSON []byte    `gorm:"type:jsonb"`
	CreatedAt   time.Time `gorm:"index;not null"`
}

func (AuditEventModel) TableName() string {
	return "audit_events"
}
