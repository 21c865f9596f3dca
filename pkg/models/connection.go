package models

// ConnectorKind enumerates the supported infrastructure connector types
// (§2, §4.4).
type ConnectorKind string

const (
	ConnectorSSH       ConnectorKind = "ssh"
	ConnectorWinRM     ConnectorKind = "winrm"
	ConnectorAzureRun  ConnectorKind = "azure_run_command"
	ConnectorGCPIAP    ConnectorKind = "gcp_iap"
	ConnectorDatabase  ConnectorKind = "database"
	ConnectorREST      ConnectorKind = "rest"
	ConnectorLocal     ConnectorKind = "local"
)

// IsValid reports whether k is a recognized connector kind.
func (k ConnectorKind) IsValid() bool {
	switch k {
	case ConnectorSSH, ConnectorWinRM, ConnectorAzureRun, ConnectorGCPIAP,
		ConnectorDatabase, ConnectorREST, ConnectorLocal:
		return true
	default:
		return false
	}
}

// CredentialReference is an opaque handle addressing a secret in the
// external secrets store. The store never yields the secret value to the
// orchestrator directly — only the Worker Runtime, via the Credential
// Broker, may materialize it for the span of one step (§3, §4.6).
type CredentialReference struct {
	ID   string `json:"id"`
	Kind string `json:"kind"` // e.g. "ssh_key", "db_password", "api_key", "azure_msi"
}

// InfrastructureConnection is a named binding of a target to a credential
// reference and a connector type (§3). Sessions derive their connection by
// matching a ticket's ci_hint/service/environment against registered
// connections.
type InfrastructureConnection struct {
	Name        string               `json:"name"`
	TenantID    string               `json:"tenant_id"`
	Connector   ConnectorKind        `json:"connector"`
	Environment string               `json:"environment"`
	Service     string               `json:"service"`
	CIHint      string               `json:"ci_hint,omitempty"`
	Target      ConnectionTarget     `json:"target"`
	Credential  CredentialReference  `json:"credential"`
}

// ConnectionTarget addresses one connector's destination: a host/port pair
// for SSH/WinRM/database targets, or a cloud resource id for Azure/GCP
// targets.
type ConnectionTarget struct {
	Host          string `json:"host,omitempty"`
	Port          int    `json:"port,omitempty"`
	CloudResource string `json:"cloud_resource_id,omitempty"`

	// BastionHost, if set, is an SSH bastion the connector must hop through
	// before reaching Host (§4.4).
	BastionHost string `json:"bastion_host,omitempty"`
	BastionPort int    `json:"bastion_port,omitempty"`

	// Username authenticates the connection (SSH/WinRM/Database). For SSH
	// the corresponding private key comes from the connection's credential
	// reference, never from this struct.
	Username string `json:"username,omitempty"`

	// Endpoint is the base URL a REST connector issues requests against.
	Endpoint string `json:"endpoint,omitempty"`

	// Database, Driver name the target database for the Database connector
	// (driver e.g. "postgres", "mysql"); the DSN's credential portion comes
	// from the connection's credential reference, never stored here.
	Database string `json:"database,omitempty"`
	Driver   string `json:"driver,omitempty"`

	// ResourceGroup, SubscriptionID address an Azure Run Command target;
	// ProjectID, Zone an Instance/GCP IAP target.
	ResourceGroup  string `json:"resource_group,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`
	Zone           string `json:"zone,omitempty"`
}
