// Package rest exposes the Sequenced Writer over the Confluent-style
// schema registry REST API. Handlers are thin: they parse the request,
// call into the Writer (or a read replica for the subject-listing
// endpoint), and translate the taxonomy in internal/regerr to HTTP
// status codes and error bodies.
package rest

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/nimbusdata/schema-registry/internal/regerr"
	"github.com/nimbusdata/schema-registry/internal/schema/replica"
	"github.com/nimbusdata/schema-registry/internal/schema/store"
	"github.com/nimbusdata/schema-registry/internal/schema/types"
	"github.com/nimbusdata/schema-registry/internal/schema/writer"

	"github.com/gin-gonic/gin"
)

var (
	seqWriter *writer.Writer
	listView  *replica.Replica
)

// Init wires the REST handlers to a coordinator Writer and, optionally,
// a read replica used by GET /subjects to exercise cross-shard replica
// sync instead of always reading the coordinator's own Store. listView
// may be nil, in which case that endpoint reads straight from w.
func Init(w *writer.Writer, listReplica *replica.Replica) {
	seqWriter = w
	listView = listReplica
	slog.Info("rest: schema registry handlers initialized")
}

// SchemaRecord represents a stored schema record
type SchemaRecord struct {
	Schema     string `json:"schema"`
	Subject    string `json:"subject"`
	Version    int    `json:"version"`
	ID         int    `json:"id"`
	SchemaType string `json:"schemaType,omitempty"`
}

// SchemaRequest is payload for registering schemas.
type SchemaRequest struct {
	Schema     string `json:"schema"`
	SchemaType string `json:"schemaType,omitempty"`
}

// SchemaResponse returns the schema ID.
type SchemaResponse struct {
	ID int `json:"id"`
}

// CompatibilityResponse indicates compatibility result.
type CompatibilityResponse struct {
	IsCompatible bool `json:"is_compatible"`
}

// ConfigRequest updates compatibility.
type ConfigRequest struct {
	Compatibility string `json:"compatibility"`
}

// ConfigResponse returns compatibility.
type ConfigResponse struct {
	CompatibilityLevel string `json:"compatibilityLevel"`
}

// ErrorResponse represents an error message
type ErrorResponse struct {
	ErrorCode int    `json:"error_code"`
	Message   string `json:"message"`
}

// SetupRouter creates and configures a Gin router with all schema registry routes
func SetupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/vnd.schemaregistry.v1+json")
		c.Next()
	})

	r.GET("/subjects", handleSubjects)

	subjectGroup := r.Group("/subjects/:subject")
	{
		subjectGroup.GET("/versions", listVersions)
		subjectGroup.POST("/versions", registerSchema)
		subjectGroup.GET("/versions/:version", getSchema)
		subjectGroup.DELETE("/versions/:version", deleteSchemaVersion)
		subjectGroup.DELETE("", deleteSubject)
		subjectGroup.POST("", checkSchema)
	}

	r.GET("/schemas/ids/:id", getSchemaById)

	r.POST("/compatibility/subjects/:subject/versions/:version", checkCompatibility)
	r.POST("/compatibility/subjects/:subject/versions", checkCompatibility)

	r.GET("/config", getGlobalConfig)
	r.PUT("/config", updateGlobalConfig)
	r.GET("/config/:subject", getSubjectConfig)
	r.PUT("/config/:subject", updateSubjectConfig)

	return r
}

// Routes returns an http.Handler for backward compatibility
func Routes() http.Handler {
	return SetupRouter()
}

func includeDeleted(c *gin.Context) bool {
	return c.Query("deleted") == "true"
}

func permanent(c *gin.Context) bool {
	return c.Query("permanent") == "true"
}

func schemaTypeOf(req SchemaRequest) types.SchemaType {
	if req.SchemaType == "" {
		return types.Avro
	}
	return types.SchemaType(req.SchemaType)
}

// respondError maps the internal/regerr taxonomy to an HTTP status and
// a Confluent-shaped error body. notFoundCode lets each call site keep
// the specific error_code the upstream API convention uses for its
// particular kind of missing resource.
func respondError(c *gin.Context, err error, notFoundCode int) {
	switch {
	case errors.Is(err, regerr.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{ErrorCode: notFoundCode, Message: err.Error()})
	case errors.Is(err, regerr.ErrCompatibilityViolation):
		c.JSON(http.StatusConflict, ErrorResponse{ErrorCode: 40901, Message: err.Error()})
	case errors.Is(err, regerr.ErrExhaustedRetries):
		c.JSON(http.StatusConflict, ErrorResponse{ErrorCode: 40902, Message: err.Error()})
	case errors.Is(err, regerr.ErrAborted):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{ErrorCode: 50300, Message: err.Error()})
	case errors.Is(err, regerr.ErrBackendError), errors.Is(err, regerr.ErrUnknownTopicOrPartition):
		c.JSON(http.StatusInternalServerError, ErrorResponse{ErrorCode: 50002, Message: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{ErrorCode: 50000, Message: err.Error()})
	}
}

// resolveVersion turns a path version segment ("latest" or a number)
// into a concrete version, consulting s for the subject's highest
// non-deleted version when it is "latest".
func resolveVersion(s *store.Store, subject, versionParam string) (int, error) {
	if versionParam == "latest" {
		versions, err := s.GetVersions(subject, false)
		if err != nil {
			return 0, err
		}
		return versions[len(versions)-1], nil
	}
	v, err := strconv.Atoi(versionParam)
	if err != nil {
		return 0, errors.New("invalid version: " + versionParam)
	}
	return v, nil
}

func handleSubjects(c *gin.Context) {
	ctx := c.Request.Context()

	view := listView
	if view != nil {
		if err := view.ReadSync(ctx); err != nil {
			respondError(c, err, 40401)
			return
		}
		c.JSON(http.StatusOK, view.Store().ListSubjects(includeDeleted(c)))
		return
	}

	if err := seqWriter.ReadSync(ctx); err != nil {
		respondError(c, err, 40401)
		return
	}
	c.JSON(http.StatusOK, seqWriter.Store().ListSubjects(includeDeleted(c)))
}

func registerSchema(c *gin.Context) {
	ctx := c.Request.Context()
	subject := c.Param("subject")

	var req SchemaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: 42201, Message: "invalid JSON"})
		return
	}

	id, err := seqWriter.WriteSubjectVersion(ctx, subject, req.Schema, schemaTypeOf(req))
	if err != nil {
		respondError(c, err, 40401)
		return
	}

	c.JSON(http.StatusOK, SchemaResponse{ID: id})
}

func getSchema(c *gin.Context) {
	ctx := c.Request.Context()
	subject := c.Param("subject")

	if err := seqWriter.ReadSync(ctx); err != nil {
		respondError(c, err, 40401)
		return
	}

	version, err := resolveVersion(seqWriter.Store(), subject, c.Param("version"))
	if err != nil {
		respondError(c, err, 40401)
		return
	}

	sub, err := seqWriter.Store().GetSubjectSchema(subject, version, includeDeleted(c))
	if err != nil {
		respondError(c, err, 40401)
		return
	}

	response := SchemaRecord{Schema: sub.Definition, Subject: subject, Version: version, ID: sub.ID}
	if sub.Type != types.Avro {
		response.SchemaType = string(sub.Type)
	}
	c.JSON(http.StatusOK, response)
}

func listVersions(c *gin.Context) {
	ctx := c.Request.Context()
	subject := c.Param("subject")

	if err := seqWriter.ReadSync(ctx); err != nil {
		respondError(c, err, 40401)
		return
	}

	versions, err := seqWriter.Store().GetVersions(subject, includeDeleted(c))
	if err != nil {
		respondError(c, err, 40401)
		return
	}

	c.JSON(http.StatusOK, versions)
}

func checkCompatibility(c *gin.Context) {
	ctx := c.Request.Context()
	subject := c.Param("subject")

	var req SchemaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: 42201, Message: "invalid JSON"})
		return
	}

	if err := seqWriter.ReadSync(ctx); err != nil {
		respondError(c, err, 40401)
		return
	}

	compatible, err := seqWriter.Store().CheckCompatibility(subject, req.Schema, schemaTypeOf(req))
	if err != nil {
		respondError(c, err, 40401)
		return
	}

	c.JSON(http.StatusOK, CompatibilityResponse{IsCompatible: compatible})
}

func getGlobalConfig(c *gin.Context) {
	ctx := c.Request.Context()
	if err := seqWriter.ReadSync(ctx); err != nil {
		respondError(c, err, 40401)
		return
	}
	level := seqWriter.Store().GetCompatibility("")
	c.JSON(http.StatusOK, ConfigResponse{CompatibilityLevel: string(level)})
}

func updateGlobalConfig(c *gin.Context) {
	ctx := c.Request.Context()
	var req ConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: 42201, Message: "invalid JSON"})
		return
	}

	if _, err := seqWriter.WriteConfig(ctx, "", types.CompatibilityLevel(req.Compatibility)); err != nil {
		respondError(c, err, 40401)
		return
	}
	c.JSON(http.StatusOK, ConfigResponse{CompatibilityLevel: req.Compatibility})
}

func getSubjectConfig(c *gin.Context) {
	ctx := c.Request.Context()
	subject := c.Param("subject")
	if err := seqWriter.ReadSync(ctx); err != nil {
		respondError(c, err, 40401)
		return
	}
	level := seqWriter.Store().GetCompatibility(subject)
	c.JSON(http.StatusOK, ConfigResponse{CompatibilityLevel: string(level)})
}

func updateSubjectConfig(c *gin.Context) {
	ctx := c.Request.Context()
	subject := c.Param("subject")
	var req ConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: 42201, Message: "invalid JSON"})
		return
	}

	if _, err := seqWriter.WriteConfig(ctx, subject, types.CompatibilityLevel(req.Compatibility)); err != nil {
		respondError(c, err, 40401)
		return
	}
	c.JSON(http.StatusOK, ConfigResponse{CompatibilityLevel: req.Compatibility})
}

func getSchemaById(c *gin.Context) {
	ctx := c.Request.Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: 42201, Message: "invalid schema id"})
		return
	}

	if err := seqWriter.ReadSync(ctx); err != nil {
		respondError(c, err, 40403)
		return
	}

	sub, err := seqWriter.Store().LookupByID(id)
	if err != nil {
		respondError(c, err, 40403)
		return
	}

	c.JSON(http.StatusOK, map[string]string{"schema": sub.Definition})
}

func deleteSchemaVersion(c *gin.Context) {
	ctx := c.Request.Context()
	subject := c.Param("subject")

	if err := seqWriter.ReadSync(ctx); err != nil {
		respondError(c, err, 40401)
		return
	}
	version, err := resolveVersion(seqWriter.Store(), subject, c.Param("version"))
	if err != nil {
		respondError(c, err, 40401)
		return
	}

	if permanent(c) {
		v := version
		if _, err := seqWriter.DeleteSubjectPermanent(ctx, subject, &v); err != nil {
			respondError(c, err, 40402)
			return
		}
		c.JSON(http.StatusOK, version)
		return
	}

	if _, err := seqWriter.DeleteSubjectVersion(ctx, subject, version); err != nil {
		respondError(c, err, 40402)
		return
	}
	c.JSON(http.StatusOK, version)
}

func deleteSubject(c *gin.Context) {
	ctx := c.Request.Context()
	subject := c.Param("subject")

	if permanent(c) {
		versions, err := seqWriter.DeleteSubjectPermanent(ctx, subject, nil)
		if err != nil {
			respondError(c, err, 40401)
			return
		}
		c.JSON(http.StatusOK, versions)
		return
	}

	versions, err := seqWriter.DeleteSubjectImpermanent(ctx, subject)
	if err != nil {
		respondError(c, err, 40401)
		return
	}
	c.JSON(http.StatusOK, versions)
}

func checkSchema(c *gin.Context) {
	ctx := c.Request.Context()
	subject := c.Param("subject")

	var req SchemaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: 42201, Message: "invalid JSON"})
		return
	}

	if err := seqWriter.ReadSync(ctx); err != nil {
		respondError(c, err, 40403)
		return
	}

	sub, version, err := seqWriter.Store().LookupRegistered(subject, req.Schema, schemaTypeOf(req))
	if err != nil {
		respondError(c, err, 40403)
		return
	}

	response := SchemaRecord{Schema: sub.Definition, Subject: subject, Version: version, ID: sub.ID}
	if sub.Type != types.Avro {
		response.SchemaType = string(sub.Type)
	}
	c.JSON(http.StatusOK, response)
}
