package permission

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/ecto-chat/ecto-server/internal/permissions"
)

// Resolver computes effective permissions for a user in a channel.
type Resolver struct {
	store Store
	cache Cache
	log   zerolog.Logger
}

// NewResolver creates a new permission resolver.
func NewResolver(store Store, cache Cache, logger zerolog.Logger) *Resolver {
	return &Resolver{store: store, cache: cache, log: logger}
}

// Resolve returns the effective permissions for a user in a channel, using the cache when available.
func (r *Resolver) Resolve(ctx context.Context, userID, channelID uuid.UUID) (permissions.Permission, error) {
	// Check cache first
	perm, ok, err := r.cache.Get(ctx, userID, channelID)
	if err != nil {
		// Cache error is non-fatal; fall through to compute
		r.log.Warn().Err(err).Msg("Permission cache get failed, falling through to compute")
	}
	if ok {
		return perm, nil
	}

	perm, err = r.compute(ctx, userID, channelID)
	if err != nil {
		return 0, err
	}

	// Cache the result (best-effort)
	if cacheErr := r.cache.Set(ctx, userID, channelID, perm); cacheErr != nil {
		r.log.Warn().Err(cacheErr).Msg("Permission cache set failed")
	}

	return perm, nil
}

// HasPermission checks whether a user has a specific permission in a channel.
func (r *Resolver) HasPermission(ctx context.Context, userID, channelID uuid.UUID, perm permissions.Permission) (bool, error) {
	effective, err := r.Resolve(ctx, userID, channelID)
	if err != nil {
		return false, err
	}
	return effective.Has(perm), nil
}

// ResolveServer returns the effective server-level permissions for a user. Only steps 1 (owner bypass) and 2 (role
// union) apply; channel and category overrides are not relevant at the server level.
func (r *Resolver) ResolveServer(ctx context.Context, userID uuid.UUID) (permissions.Permission, error) {
	isOwner, err := r.store.IsOwner(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("check owner: %w", err)
	}
	if isOwner {
		return permissions.AllPermissions, nil
	}

	roleEntries, err := r.store.RolePermissions(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("get role permissions: %w", err)
	}

	var base permissions.Permission
	for _, entry := range roleEntries {
		base = base.Add(entry.Permissions)
	}

	if base.Has(permissions.Administrator) {
		return permissions.AllPermissions, nil
	}

	return base, nil
}

// HasServerPermission checks whether a user has a specific server-level permission.
func (r *Resolver) HasServerPermission(ctx context.Context, userID uuid.UUID, perm permissions.Permission) (bool, error) {
	effective, err := r.ResolveServer(ctx, userID)
	if err != nil {
		return false, err
	}
	return effective.Has(perm), nil
}

// FilterPermitted reports, for each channel in channelIDs in order, whether userID holds perm there. It resolves
// each channel independently, benefiting from the per-user/per-channel cache; a true batch store query is not
// required by any caller yet.
func (r *Resolver) FilterPermitted(ctx context.Context, userID uuid.UUID, channelIDs []uuid.UUID, perm permissions.Permission) ([]bool, error) {
	result := make([]bool, len(channelIDs))
	for i, channelID := range channelIDs {
		ok, err := r.HasPermission(ctx, userID, channelID, perm)
		if err != nil {
			return nil, fmt.Errorf("check permission for channel %s: %w", channelID, err)
		}
		result[i] = ok
	}
	return result, nil
}

// FilterUsersPermitted reports, for each user in userIDs in order, whether they hold perm in channelID.
func (r *Resolver) FilterUsersPermitted(ctx context.Context, userIDs []uuid.UUID, channelID uuid.UUID, perm permissions.Permission) ([]bool, error) {
	result := make([]bool, len(userIDs))
	for i, userID := range userIDs {
		ok, err := r.HasPermission(ctx, userID, channelID, perm)
		if err != nil {
			return nil, fmt.Errorf("check permission for user %s: %w", userID, err)
		}
		result[i] = ok
	}
	return result, nil
}

// compute runs the 4-step permission algorithm.
func (r *Resolver) compute(ctx context.Context, userID, channelID uuid.UUID) (permissions.Permission, error) {
	// Step 1: Owner bypass
	isOwner, err := r.store.IsOwner(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("check owner: %w", err)
	}
	if isOwner {
		return permissions.AllPermissions, nil
	}

	// Step 2: Role union
	roleEntries, err := r.store.RolePermissions(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("get role permissions: %w", err)
	}

	var base permissions.Permission
	roleIDs := make(map[uuid.UUID]struct{})
	for _, entry := range roleEntries {
		base = base.Add(entry.Permissions)
		roleIDs[entry.RoleID] = struct{}{}
	}

	// Administrator short-circuits every override layer (spec §4.1 step 3).
	if base.Has(permissions.Administrator) {
		return permissions.AllPermissions, nil
	}

	// Step 3: Category overrides
	chanInfo, err := r.store.ChannelInfo(ctx, channelID)
	if err != nil {
		return 0, fmt.Errorf("get channel info: %w", err)
	}

	if chanInfo.CategoryID != nil {
		catOverrides, err := r.store.Overrides(ctx, TargetCategory, *chanInfo.CategoryID)
		if err != nil {
			return 0, fmt.Errorf("get category overrides: %w", err)
		}
		base = applyOverrides(base, catOverrides, roleIDs, userID)
	}

	// Step 4: Channel overrides
	chanOverrides, err := r.store.Overrides(ctx, TargetChannel, channelID)
	if err != nil {
		return 0, fmt.Errorf("get channel overrides: %w", err)
	}
	base = applyOverrides(base, chanOverrides, roleIDs, userID)

	return base, nil
}

// ResolveSharedItemAccess computes a user's effective permission on a shared folder or file, reusing the
// permission_overrides table with TargetSharedItem rows instead of channel/category rows. Overrides are applied
// root-to-leaf along the folder ancestor chain, so a deny placed on a subfolder overrides an allow inherited from
// its parent, mirroring the channel/category precedence in compute.
func (r *Resolver) ResolveSharedItemAccess(ctx context.Context, userID, itemID uuid.UUID) (permissions.Permission, error) {
	isOwner, err := r.store.IsOwner(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("check owner: %w", err)
	}
	if isOwner {
		return permissions.AllPermissions, nil
	}

	roleEntries, err := r.store.RolePermissions(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("get role permissions: %w", err)
	}

	var base permissions.Permission
	roleIDs := make(map[uuid.UUID]struct{})
	for _, entry := range roleEntries {
		base = base.Add(entry.Permissions)
		roleIDs[entry.RoleID] = struct{}{}
	}

	if base.Has(permissions.Administrator) {
		return permissions.AllPermissions, nil
	}

	ancestors, err := r.store.SharedItemAncestors(ctx, itemID)
	if err != nil {
		return 0, fmt.Errorf("get shared item ancestors: %w", err)
	}

	for _, id := range ancestors {
		overrides, err := r.store.Overrides(ctx, TargetSharedItem, id)
		if err != nil {
			return 0, fmt.Errorf("get shared item overrides for %s: %w", id, err)
		}
		base = applyOverrides(base, overrides, roleIDs, userID)
	}

	return base, nil
}

// HasSharedItemAccess checks whether a user holds perm on a shared folder or file.
func (r *Resolver) HasSharedItemAccess(ctx context.Context, userID, itemID uuid.UUID, perm permissions.Permission) (bool, error) {
	effective, err := r.ResolveSharedItemAccess(ctx, userID, itemID)
	if err != nil {
		return false, err
	}
	return effective.Has(perm), nil
}

// applyOverrides applies permission overrides to a base bitfield. Role overrides for roles the user holds are merged
// first, then the user-specific override is applied on top.
func applyOverrides(base permissions.Permission, overrides []Override, userRoles map[uuid.UUID]struct{}, userID uuid.UUID) permissions.Permission {
	var roleAllow, roleDeny permissions.Permission
	var userOverride *Override

	for i := range overrides {
		o := &overrides[i]
		if o.PrincipalType == PrincipalUser && o.PrincipalID == userID {
			userOverride = o
			continue
		}
		if o.PrincipalType == PrincipalRole {
			if _, held := userRoles[o.PrincipalID]; held {
				roleAllow = roleAllow.Add(o.Allow)
				roleDeny = roleDeny.Add(o.Deny)
			}
		}
	}

	// Apply role overrides: remove deny, then add allow (allow wins on overlap at the same level)
	base = base.Remove(roleDeny)
	base = base.Add(roleAllow)

	// Apply user-specific override on top (highest precedence)
	if userOverride != nil {
		base = base.Remove(userOverride.Deny)
		base = base.Add(userOverride.Allow)
	}

	return base
}
