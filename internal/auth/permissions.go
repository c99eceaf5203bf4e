package auth

import "strings"

type StaffPermission string

const (
	PermQueue     StaffPermission = "queue"
	PermOrders    StaffPermission = "orders"
	PermCounters  StaffPermission = "counters"
	PermPickup    StaffPermission = "pickup"
	PermDelivery  StaffPermission = "delivery"
	PermInventory StaffPermission = "inventory"
	PermStockIn   StaffPermission = "inventory_receive"
)

var apiPermissionMap = map[string]StaffPermission{
	"/api/staff/queue":               PermQueue,
	"/api/staff/orders":              PermOrders,
	"/api/staff/counters":            PermCounters,
	"/api/staff/pickup":              PermPickup,
	"/api/staff/delivery":            PermDelivery,
	"/api/staff/inventory":           PermInventory,
	"POST /api/staff/inventory/lots": PermStockIn,
}

// GetPermissionForAPI returns the permission guarding path, preferring the
// longest prefix and then a method-specific entry.
func GetPermissionForAPI(path string, method string) *StaffPermission {
	method = strings.ToUpper(strings.TrimSpace(method))

	var bestPath string
	var bestPerm *StaffPermission
	var bestMethodSpecific bool

	for key, perm := range apiPermissionMap {
		keyPath := key
		methodSpecific := false
		if strings.Contains(key, " ") {
			parts := strings.SplitN(key, " ", 2)
			keyMethod := strings.ToUpper(strings.TrimSpace(parts[0]))
			keyPath = strings.TrimSpace(parts[1])
			methodSpecific = true
			if method == "" || method != keyMethod {
				continue
			}
		}

		if !strings.HasPrefix(path, keyPath) {
			continue
		}

		if bestPerm == nil || len(keyPath) > len(bestPath) || (len(keyPath) == len(bestPath) && methodSpecific && !bestMethodSpecific) {
			bestPath = keyPath
			bestMethodSpecific = methodSpecific
			permCopy := perm
			bestPerm = &permCopy
		}
	}

	return bestPerm
}

// HasPermission reports whether granted includes perm. Owners hold every
// permission.
func HasPermission(role UserRole, granted []string, perm StaffPermission) bool {
	if role == RolePharmacyOwner {
		return true
	}
	for _, g := range granted {
		if strings.EqualFold(strings.TrimSpace(g), string(perm)) {
			return true
		}
	}
	return false
}
