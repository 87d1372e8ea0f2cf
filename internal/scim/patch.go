package scim

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/dhawalhost/provgate/internal/store"
)

// groupPatchKind identifies the shape of a decoded PatchOp operation.
type groupPatchKind int

const (
	patchNoOp groupPatchKind = iota
	patchReplaceMetadata
	patchAddMembers
	patchRemoveMembers
	patchReplaceMembers
	patchRemoveByFilter
)

// groupPatch is a PatchOperation decoded into one of the supported shapes.
// Exactly one of the payload fields is meaningful per kind.
type groupPatch struct {
	kind         groupPatchKind
	attrs        store.Resource // patchReplaceMetadata
	memberIDs    []string       // patchAddMembers, patchRemoveMembers, patchReplaceMembers
	memberFilter string         // patchRemoveByFilter
}

// decodeGroupPatch classifies a raw PatchOp operation. The recognized
// shapes, in order:
//
//  1. replace without a path and an object value: group metadata update.
//  2. add/remove with path "members" and a member-object list.
//  3. replace with path "members" and a list: full membership replacement.
//  4. remove with path `members[<subfilter>]` and no value.
//
// Anything else decodes to a no-op; unknown shapes are tolerated rather
// than rejected so partial Operations lists still apply.
func decodeGroupPatch(op PatchOperation) groupPatch {
	opType := strings.ToLower(op.Op)
	path := strings.TrimSpace(op.Path)

	if opType == "replace" && path == "" {
		if attrs, ok := op.Value.(map[string]any); ok {
			return groupPatch{kind: patchReplaceMetadata, attrs: attrs}
		}
		return groupPatch{kind: patchNoOp}
	}

	if strings.EqualFold(path, "members") {
		values, ok := op.Value.([]any)
		if !ok {
			return groupPatch{kind: patchNoOp}
		}
		ids := patchMemberIDs(values)
		switch opType {
		case "add":
			return groupPatch{kind: patchAddMembers, memberIDs: ids}
		case "remove":
			return groupPatch{kind: patchRemoveMembers, memberIDs: ids}
		case "replace":
			return groupPatch{kind: patchReplaceMembers, memberIDs: ids}
		}
		return groupPatch{kind: patchNoOp}
	}

	if opType == "remove" && op.Value == nil {
		if sub, ok := memberSubFilter(path); ok {
			return groupPatch{kind: patchRemoveByFilter, memberFilter: sub}
		}
	}

	return groupPatch{kind: patchNoOp}
}

// memberSubFilter extracts the inner expression of a `members[...]` path.
func memberSubFilter(path string) (string, bool) {
	lower := strings.ToLower(path)
	if !strings.HasPrefix(lower, "members[") || !strings.HasSuffix(path, "]") {
		return "", false
	}
	return path[len("members[") : len(path)-1], true
}

func patchMemberIDs(values []any) []string {
	ids := make([]string, 0, len(values))
	for _, v := range values {
		member, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if id, ok := member["value"].(string); ok && id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// applyGroupPatch runs every operation of a PatchOp against the group store
// and returns the refreshed group.
func applyGroupPatch(ctx context.Context, groups store.GroupStore, logger *zap.Logger, groupID string, ops []PatchOperation) (store.Resource, error) {
	for _, op := range ops {
		patch := decodeGroupPatch(op)
		switch patch.kind {
		case patchReplaceMetadata:
			if _, err := groups.Update(ctx, groupID, patch.attrs); err != nil {
				return nil, err
			}
		case patchAddMembers:
			for _, userID := range patch.memberIDs {
				if err := groups.AddUserToGroup(ctx, userID, groupID); err != nil {
					return nil, err
				}
			}
		case patchRemoveMembers:
			if err := groups.RemoveUsersFromGroup(ctx, patch.memberIDs, groupID); err != nil {
				return nil, err
			}
		case patchReplaceMembers:
			if err := groups.SetGroupMembers(ctx, patch.memberIDs, groupID); err != nil {
				return nil, err
			}
		case patchRemoveByFilter:
			matched, err := groups.SearchMembers(ctx, patch.memberFilter, groupID)
			if err != nil {
				return nil, err
			}
			ids := make([]string, 0, len(matched))
			for _, member := range matched {
				if id, ok := member["value"].(string); ok {
					ids = append(ids, id)
				}
			}
			if err := groups.RemoveUsersFromGroup(ctx, ids, groupID); err != nil {
				return nil, err
			}
		default:
			logger.Warn("ignoring unrecognized group patch operation",
				zap.String("op", op.Op), zap.String("path", op.Path))
		}
	}
	return groups.GetByID(ctx, groupID)
}
