// Package authz decides which roles may run which operation.
package authz

import (
	"fmt"
	"slices"
	"strings"

	"salesledger/backend/internal/domain"
)

type Operation string

const (
	OpCreateSale     Operation = "create_sale"
	OpGetSale        Operation = "get_sale"
	OpListSales      Operation = "list_sales"
	OpVoidSale       Operation = "void_sale"
	OpViewReports    Operation = "view_reports"
	OpViewCatalog    Operation = "view_catalog"
	OpManageProducts Operation = "manage_products"
	OpRecordDelivery Operation = "record_delivery"
)

var policy = map[Operation][]domain.Role{
	OpCreateSale:     {domain.RoleAdmin, domain.RoleStaff, domain.RoleSupplier},
	OpGetSale:        {domain.RoleAdmin, domain.RoleStaff, domain.RoleSupplier},
	OpListSales:      {domain.RoleAdmin, domain.RoleStaff},
	OpVoidSale:       {domain.RoleAdmin, domain.RoleStaff},
	OpViewReports:    {domain.RoleAdmin, domain.RoleStaff},
	OpViewCatalog:    {domain.RoleAdmin, domain.RoleStaff, domain.RoleSupplier},
	OpManageProducts: {domain.RoleAdmin},
	OpRecordDelivery: {domain.RoleAdmin, domain.RoleSupplier},
}

func Allowed(role domain.Role, op Operation) bool {
	return slices.Contains(policy[op], role)
}

// Authorize fails with domain.ErrUnauthorized unless the actor's role is
// listed for op. Unknown operations are denied.
func Authorize(actor domain.Actor, op Operation) error {
	if actor.Username == "" {
		return fmt.Errorf("%w: no authenticated actor", domain.ErrUnauthorized)
	}
	allowed := RolesFor(op)
	if len(allowed) == 0 {
		return fmt.Errorf("%w: unknown operation %s", domain.ErrUnauthorized, op)
	}
	if !slices.Contains(allowed, actor.Role) {
		names := make([]string, len(allowed))
		for i, role := range allowed {
			names[i] = string(role)
		}
		return fmt.Errorf("%w: role %q may not %s, requires one of %s", domain.ErrUnauthorized, actor.Role, op, strings.Join(names, ", "))
	}
	return nil
}

// RolesFor lists the roles permitted for op.
func RolesFor(op Operation) []domain.Role {
	return slices.Clone(policy[op])
}
