package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Login page of the single page app, used by the direct grant strategy
	RouteLoginPage = "/login"

	// Auth Routes
	RouteAuthLogin    = "/auth/login"
	RouteAuthLogout   = "/auth/logout"
	RouteAuthSession  = "/auth/session"
	RouteAuthRefresh  = "/auth/refresh"
	RouteAuthCallback = "/auth/callback"
	RouteAuthRegister = "/auth/register"

	// Banking API, proxied with the profile's bearer token
	RouteAPI          = "/api/"
	RouteAPICustomers = "/api/customers"
	RouteAPICustomer  = "/api/customers/{id}"
	RouteAPITransfer  = "/api/transactions/transfer"

	// Operations
	RouteMetrics = "/metrics"
	RouteHealth  = "/healthz"
)

// apiRoleGates are API calls that need one of the listed roles before they are forwarded
var apiRoleGates = []struct {
	pattern string
	roles   []string
}{
	{"POST " + RouteAPICustomers, []string{"ADMIN", "MANAGER"}},
	{"PUT " + RouteAPICustomer, []string{"ADMIN", "MANAGER"}},
	{"DELETE " + RouteAPICustomer, []string{"ADMIN"}},
	{"POST " + RouteAPITransfer, []string{"USER", "ADMIN"}},
}
