package scim

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dhawalhost/provgate/internal/filter"
	"github.com/dhawalhost/provgate/internal/store"
)

const defaultPageSize = 100

// HTTPHandler handles SCIM HTTP requests against the configured stores.
type HTTPHandler struct {
	users  store.Store
	groups store.GroupStore
	logger *zap.Logger
}

// NewHTTPHandler creates a new SCIM HTTP handler.
func NewHTTPHandler(users store.Store, groups store.GroupStore, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{users: users, groups: groups, logger: logger}
}

// RegisterRoutes registers SCIM endpoints on the given router group. The
// caller applies authentication and other middleware to the group.
func (h *HTTPHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.Use(scimContentType())

	group.GET("/Users", h.listUsers)
	group.POST("/Users", h.createUser)
	group.GET("/Users/:id", h.getUser)
	group.PUT("/Users/:id", h.updateUser)
	group.PATCH("/Users/:id", h.patchUser)
	group.DELETE("/Users/:id", h.deleteUser)

	group.GET("/Groups", h.listGroups)
	group.POST("/Groups", h.createGroup)
	group.GET("/Groups/:id", h.getGroup)
	group.PUT("/Groups/:id", h.updateGroup)
	group.PATCH("/Groups/:id", h.patchGroup)
	group.DELETE("/Groups/:id", h.deleteGroup)
}

func scimContentType() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/scim+json")
		c.Next()
	}
}

// ----- Users -----

func (h *HTTPHandler) listUsers(c *gin.Context) {
	h.list(c, h.users)
}

func (h *HTTPHandler) createUser(c *gin.Context) {
	var resource store.Resource
	if err := c.ShouldBindJSON(&resource); err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if userName, _ := resource["userName"].(string); userName == "" {
		h.respondError(c, http.StatusBadRequest, "userName is required")
		return
	}
	ensureSchemas(resource, UserSchema)
	ensureMeta(resource, "User")
	applyUserDefaults(resource)

	created, err := h.users.Create(c.Request.Context(), resource)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, store.Sanitize(created))
}

func (h *HTTPHandler) getUser(c *gin.Context) {
	user, err := h.users.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, store.Sanitize(user))
}

// updateUser merges the supplied attributes over the stored user. The store
// drops id and derived fields from the patch.
func (h *HTTPHandler) updateUser(c *gin.Context) {
	var attrs store.Resource
	if err := c.ShouldBindJSON(&attrs); err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	user, err := h.users.Update(c.Request.Context(), c.Param("id"), attrs)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, store.Sanitize(user))
}

// patchUser accepts either a PatchOp body, whose add/replace operations are
// projected onto attributes, or a bare attribute object, and merges the
// result.
func (h *HTTPHandler) patchUser(c *gin.Context) {
	var body store.Resource
	if err := c.ShouldBindJSON(&body); err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	attrs := body
	if rawOps, ok := body["Operations"].([]any); ok {
		attrs = attrsFromOperations(rawOps)
	}
	user, err := h.users.Update(c.Request.Context(), c.Param("id"), attrs)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, store.Sanitize(user))
}

func (h *HTTPHandler) deleteUser(c *gin.Context) {
	if err := h.users.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// ----- Groups -----

func (h *HTTPHandler) listGroups(c *gin.Context) {
	h.list(c, h.groups)
}

func (h *HTTPHandler) createGroup(c *gin.Context) {
	var resource store.Resource
	if err := c.ShouldBindJSON(&resource); err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if displayName, _ := resource["displayName"].(string); displayName == "" {
		h.respondError(c, http.StatusBadRequest, "displayName is required")
		return
	}
	ensureSchemas(resource, GroupSchema)
	ensureMeta(resource, "Group")

	created, err := h.groups.Create(c.Request.Context(), resource)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *HTTPHandler) getGroup(c *gin.Context) {
	group, err := h.groups.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, group)
}

func (h *HTTPHandler) updateGroup(c *gin.Context) {
	var attrs store.Resource
	if err := c.ShouldBindJSON(&attrs); err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	group, err := h.groups.Update(c.Request.Context(), c.Param("id"), attrs)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, group)
}

func (h *HTTPHandler) patchGroup(c *gin.Context) {
	var req PatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	group, err := applyGroupPatch(c.Request.Context(), h.groups, h.logger, c.Param("id"), req.Operations)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, group)
}

func (h *HTTPHandler) deleteGroup(c *gin.Context) {
	if err := h.groups.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// ----- shared -----

func (h *HTTPHandler) list(c *gin.Context, s store.Store) {
	startIndex, _ := strconv.Atoi(c.DefaultQuery("startIndex", "1"))
	if startIndex < 1 {
		startIndex = 1
	}
	count := defaultPageSize
	if raw := c.Query("count"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			count = n
		}
	}

	// count=0 asks for the total alone; backends never see a zero count,
	// so both report it identically.
	if count == 0 {
		_, total, err := s.Search(c.Request.Context(), c.Query("filter"), 1, 1)
		if err != nil {
			h.respondStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, ListResponse{
			Schemas:      []string{ListSchema},
			TotalResults: total,
			StartIndex:   startIndex,
			ItemsPerPage: 0,
			Resources:    []any{},
		})
		return
	}

	resources, total, err := s.Search(c.Request.Context(), c.Query("filter"), startIndex, count)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}

	items := make([]any, 0, len(resources))
	for _, r := range resources {
		items = append(items, store.Sanitize(r))
	}
	c.JSON(http.StatusOK, ListResponse{
		Schemas:      []string{ListSchema},
		TotalResults: total,
		StartIndex:   startIndex,
		ItemsPerPage: count,
		Resources:    items,
	})
}

// respondStoreError is the single translation from the store and filter
// error taxonomy to HTTP status codes.
func (h *HTTPHandler) respondStoreError(c *gin.Context, err error) {
	var parseErr *filter.ParseError
	var unsupported *filter.UnsupportedAttributeError
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.respondError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrAlreadyExists):
		h.respondError(c, http.StatusConflict, err.Error())
	case errors.As(err, &parseErr), errors.As(err, &unsupported):
		h.respondError(c, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("store operation failed",
			zap.String("path", c.FullPath()), zap.Error(err))
		h.respondError(c, http.StatusInternalServerError, "internal server error")
	}
}

func (h *HTTPHandler) respondError(c *gin.Context, status int, detail string) {
	c.JSON(status, Error{
		Schemas: []string{ErrorSchema},
		Status:  status,
		Detail:  detail,
	})
}

func ensureSchemas(resource store.Resource, uri string) {
	if schemas, ok := resource["schemas"].([]any); ok && len(schemas) > 0 {
		return
	}
	resource["schemas"] = []any{uri}
}

func ensureMeta(resource store.Resource, resourceType string) {
	if _, ok := resource["meta"]; !ok {
		resource["meta"] = map[string]any{"resourceType": resourceType}
	}
}

// applyUserDefaults fills create-time defaults so both backends produce the
// same resource shape: active true, locale en-US and at least one email,
// synthesized from the userName.
func applyUserDefaults(resource store.Resource) {
	if _, ok := resource["active"].(bool); !ok {
		resource["active"] = true
	}
	if locale, _ := resource["locale"].(string); locale == "" {
		resource["locale"] = "en-US"
	}
	if emails, _ := resource["emails"].([]any); len(emails) == 0 {
		userName, _ := resource["userName"].(string)
		resource["emails"] = []any{
			map[string]any{"value": userName, "primary": true, "type": "work"},
		}
	}
}

// attrsFromOperations flattens PatchOp add/replace operations into an
// attribute map. A pathless operation merges its object value; a simple
// path sets the named attribute.
func attrsFromOperations(rawOps []any) store.Resource {
	attrs := store.Resource{}
	for _, rawOp := range rawOps {
		op, ok := rawOp.(map[string]any)
		if !ok {
			continue
		}
		opType, _ := op["op"].(string)
		if opType != "replace" && opType != "add" {
			continue
		}
		path, _ := op["path"].(string)
		if path == "" {
			if values, ok := op["value"].(map[string]any); ok {
				for k, v := range values {
					attrs[k] = v
				}
			}
			continue
		}
		attrs[path] = op["value"]
	}
	return attrs
}
