package ledger

// Escrow roles.
const (
	RolePayer      = "payer"
	RolePayee      = "payee"
	RoleArbitrator = "arbitrator"
)

// Escrow actions.
const (
	ActDeposit = "deposit"
	ActConfirm = "confirm_delivery"
	ActDispute = "initiate_dispute"
)

// RolePermissions defines which escrow actions each role may take.
// Release is open to any caller and is gated by state instead.
var RolePermissions = map[string][]string{
	RolePayer:      {ActDeposit, ActConfirm, ActDispute},
	RolePayee:      {ActConfirm, ActDispute},
	RoleArbitrator: {ActDispute},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, action string) bool {
	for _, a := range RolePermissions[role] {
		if a == action {
			return true
		}
	}
	return false
}
