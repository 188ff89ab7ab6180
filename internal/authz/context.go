package authz

import "github.com/labstack/echo/v4"

// ContextKey is the echo context key under which the resolved agency context
// is stored by the middleware chain.
const ContextKey = "agency_context"

// Context is the resolved per-request authorization context. It is built once
// by the agency-context middleware and passed explicitly into every data
// operation; downstream code never re-derives tenant identity.
type Context struct {
	UserID     uint
	UserName   string
	AgencyID   uint
	AgencyRole Role
	Perms      PermissionSet
	AgencyName string
	AgencySlug string
	Mode       TenancyMode
}

// Can reports whether the context grants a capability. Legacy mode always
// grants everything; that carve-out is deliberate backward compatibility.
func (c *Context) Can(cap Capability) bool {
	if c.Mode == ModeLegacy {
		return true
	}
	return c.Perms[cap]
}

// FromEcho retrieves the agency context set by the middleware. The boolean is
// false when the route was not wrapped by RequireAgency.
func FromEcho(c echo.Context) (*Context, bool) {
	actx, ok := c.Get(ContextKey).(*Context)
	return actx, ok
}
