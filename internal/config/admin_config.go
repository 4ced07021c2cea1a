package config

// AdminConfig carries the provider admin credentials used for registration.
// Only the gateway reads these; the session manager never sees them.
type AdminConfig interface {
	GetAdminRealm() string
	GetAdminClientID() string
	GetAdminClientSecret() string
	GetRegistrationEnabled() bool
}

type Admin struct {
	file *File
}

var _ AdminConfig = Admin{}

func (a Admin) GetAdminRealm() string {
	return GetEnv("KEYCLOAK_ADMIN_REALM", pick(a.file.Admin.Realm, "master"))
}

func (a Admin) GetAdminClientID() string {
	return GetEnv("KEYCLOAK_ADMIN_CLIENT_ID", pick(a.file.Admin.ClientID, "klb-provisioner"))
}

func (a Admin) GetAdminClientSecret() string {
	return GetEnv("KEYCLOAK_ADMIN_CLIENT_SECRET", a.file.Admin.ClientSecret)
}

// GetRegistrationEnabled is true once an admin client secret is configured
func (a Admin) GetRegistrationEnabled() bool {
	return a.GetAdminClientSecret() != ""
}
