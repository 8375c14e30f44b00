package v1

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain"
	mr "github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain/medical_record"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain/patient"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// publishBodyLimit caps a multipart publication: every attachment at its limit plus form fields.
const publishBodyLimit = int64(mr.MaxAttachments)*mr.MaxAttachmentBytes + 1<<20

// Session is the identity context the API reads and drives.
type Session interface {
	Profile() (*domain.Profile, error)
	IsSignedIn() bool
	Connect(ctx context.Context) (*domain.Profile, error)
	SignOut(ctx context.Context) error
}

type Settlements interface {
	AwaitSettlement(ctx context.Context, txID string) (*domain.Settlement, error)
}

type Handler struct {
	session   Session
	patients  *service.PatientService
	access    *service.AccessService
	records   *service.RecordService
	dashboard *service.DashboardService
	audit     *service.AuditService
	txs       Settlements
	log       *zap.Logger
}

type Deps struct {
	Session   Session
	Patients  *service.PatientService
	Access    *service.AccessService
	Records   *service.RecordService
	Dashboard *service.DashboardService
	Audit     *service.AuditService
	Txs       Settlements
}

func NewHandler(d Deps, log *zap.Logger) *Handler {
	return &Handler{
		session:   d.Session,
		patients:  d.Patients,
		access:    d.Access,
		records:   d.Records,
		dashboard: d.Dashboard,
		audit:     d.Audit,
		txs:       d.Txs,
		log:       log,
	}
}

// Register mounts the API. Everything except the session routes needs a signed-in wallet.
func (h *Handler) Register(rg *gin.RouterGroup) {
	sess := rg.Group("/session")
	sess.GET("", h.getSession)
	sess.POST("/connect", h.connect)
	sess.DELETE("", h.signOut)

	authed := rg.Group("", RequireSession(h.session))

	patients := authed.Group("/patients")
	patients.POST("", h.registerPatient)
	patients.GET("/:patientId", h.getPatient)
	patients.GET("/:patientId/records", h.listRecords)
	patients.POST("/:patientId/records", h.publishRecord)
	patients.GET("/:patientId/attachments/:contentId", h.getAttachment)
	patients.GET("/:patientId/audit", h.auditTrail)
	patients.POST("/:patientId/access-requests", h.requestAccess)
	patients.GET("/:patientId/access-requests/:requester", h.getAccessRequest)
	patients.POST("/:patientId/access-requests/:requester/grant", h.grantAccess)
	patients.POST("/:patientId/access-requests/:requester/revoke", h.revokeAccess)

	authed.GET("/transactions/:txId", h.getTransaction)

	dash := authed.Group("/dashboard")
	dash.GET("", h.getDashboard)
	dash.GET("/patient", RequireRole(domain.RolePatient, domain.RoleOwner), h.getPatientDashboard)
	dash.GET("/provider", RequireRole(domain.RoleProvider), h.getProviderDashboard)
}

type SessionResponse struct {
	SignedIn bool            `json:"signed_in"`
	Profile  *domain.Profile `json:"profile,omitempty"`
}

func (h *Handler) getSession(c *gin.Context) {
	p, err := h.session.Profile()
	if err != nil {
		respondOK(c, SessionResponse{SignedIn: false})
		return
	}
	respondOK(c, SessionResponse{SignedIn: true, Profile: p})
}

func (h *Handler) connect(c *gin.Context) {
	p, err := h.session.Connect(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	h.dashboard.Reset()
	h.audit.LogAsync(c.Request.Context(), service.AuditEntry{
		Principal: p.Principal,
		Role:      p.Role,
		Action:    domain.ActionSignIn,
		Outcome:   "ok",
	})
	respondOK(c, SessionResponse{SignedIn: true, Profile: p})
}

func (h *Handler) signOut(c *gin.Context) {
	p, _ := h.session.Profile()
	if err := h.session.SignOut(c.Request.Context()); err != nil {
		h.log.Warn("wallet sign-out failed; local session cleared", zap.Error(err))
	}
	h.dashboard.Reset()
	if p != nil {
		h.audit.LogAsync(c.Request.Context(), service.AuditEntry{
			Principal: p.Principal,
			Role:      p.Role,
			Action:    domain.ActionSignOut,
			Outcome:   "ok",
		})
	}
	c.Status(http.StatusNoContent)
}

type RegisterPatientRequest struct {
	PatientID   string `json:"patient_id" binding:"required"`
	Name        string `json:"name" binding:"required"`
	DateOfBirth string `json:"date_of_birth" binding:"required"`
	BloodType   string `json:"blood_type" binding:"required"`
}

type MutationResponse struct {
	PatientID string           `json:"patient_id"`
	Subject   string           `json:"subject,omitempty"`
	Outcome   *service.Outcome `json:"outcome"`
}

func (h *Handler) registerPatient(c *gin.Context) {
	var req RegisterPatientRequest
	if !bindJSON(c, &req) {
		return
	}
	dob, err := parseDate(req.DateOfBirth)
	if err != nil {
		respondError(c, http.StatusBadRequest, "date_of_birth must be YYYY-MM-DD or RFC 3339")
		return
	}

	cmd := &patient.RegisterCommand{
		PatientID:   req.PatientID,
		Name:        req.Name,
		DateOfBirth: dob,
		BloodType:   patient.BloodType(req.BloodType),
	}
	out, err := h.patients.Register(c.Request.Context(), cmd)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOutcome(c, http.StatusCreated, out, MutationResponse{PatientID: cmd.PatientID, Outcome: out})
}

func (h *Handler) getPatient(c *gin.Context) {
	hdr, err := h.patients.Header(c.Request.Context(), c.Param("patientId"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, hdr)
}

func (h *Handler) listRecords(c *gin.Context) {
	q := mr.Query{Type: mr.RecordType(c.Query("type")), Search: c.Query("q")}
	if q.Type != "" && !q.Type.IsValid() {
		respondError(c, http.StatusBadRequest, "unknown record type "+string(q.Type))
		return
	}
	set, err := h.records.Fetch(c.Request.Context(), c.Param("patientId"), q)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, set)
}

type PublishRecordRequest struct {
	RecordType   string `json:"record_type" form:"record_type"`
	Description  string `json:"description" form:"description"`
	ProviderName string `json:"provider_name" form:"provider_name"`
}

// publishRecord accepts JSON for entries without files and multipart/form-data with
// "attachments" file parts otherwise.
func (h *Handler) publishRecord(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, publishBodyLimit)

	var req PublishRecordRequest
	var files []mr.File
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		form, err := c.MultipartForm()
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid multipart form: "+err.Error())
			return
		}
		req.RecordType = firstValue(form.Value, "record_type")
		req.Description = firstValue(form.Value, "description")
		req.ProviderName = firstValue(form.Value, "provider_name")
		files, err = readFiles(form.File["attachments"])
		if err != nil {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
	} else if !bindJSON(c, &req) {
		return
	}

	res, err := h.records.Publish(c.Request.Context(), &mr.PublishCommand{
		PatientID:    c.Param("patientId"),
		RecordType:   mr.RecordType(req.RecordType),
		Description:  req.Description,
		ProviderName: req.ProviderName,
		Files:        files,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOutcome(c, http.StatusCreated, res.Outcome, res)
}

func (h *Handler) getAttachment(c *gin.Context) {
	blob, err := h.records.Attachment(c.Request.Context(), c.Param("patientId"), c.Param("contentId"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	contentType := blob.Attachment.Type
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": blob.Attachment.Name}))
	if blob.Attachment.SHA256 != "" {
		c.Header("X-Content-SHA256", blob.Attachment.SHA256)
	}
	c.Data(http.StatusOK, contentType, blob.Data)
}

func (h *Handler) auditTrail(c *gin.Context) {
	patientID := c.Param("patientId")
	// the trail is visible to whoever the contract lets read the header
	if _, err := h.patients.Header(c.Request.Context(), patientID); err != nil {
		respondServiceError(c, err)
		return
	}
	trail, err := h.audit.Trail(c.Request.Context(), patientID, parseQueryInt(c, "limit", 100))
	if err != nil {
		h.log.Error("failed to read audit trail", zap.String("patient_id", patientID), zap.Error(err))
		respondServiceError(c, err)
		return
	}
	respondOK(c, trail)
}

func (h *Handler) requestAccess(c *gin.Context) {
	patientID := c.Param("patientId")
	out, err := h.access.Request(c.Request.Context(), patientID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOutcome(c, http.StatusCreated, out, MutationResponse{PatientID: patientID, Outcome: out})
}

func (h *Handler) getAccessRequest(c *gin.Context) {
	requester, ok := parsePrincipal(c, "requester")
	if !ok {
		return
	}
	r, err := h.access.Status(c.Request.Context(), c.Param("patientId"), requester)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, r)
}

func (h *Handler) grantAccess(c *gin.Context) {
	h.decide(c, h.access.Grant)
}

func (h *Handler) revokeAccess(c *gin.Context) {
	h.decide(c, h.access.Revoke)
}

func (h *Handler) decide(c *gin.Context, op func(context.Context, string, domain.Principal) (*service.Outcome, error)) {
	requester, ok := parsePrincipal(c, "requester")
	if !ok {
		return
	}
	patientID := c.Param("patientId")
	out, err := op(c.Request.Context(), patientID, requester)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOutcome(c, http.StatusOK, out, MutationResponse{PatientID: patientID, Subject: requester.String(), Outcome: out})
}

type TransactionResponse struct {
	*domain.Settlement
	ErrorKind string `json:"error_kind,omitempty"`
}

func (h *Handler) getTransaction(c *gin.Context) {
	txID := strings.TrimSpace(c.Param("txId"))
	if txID == "" {
		respondError(c, http.StatusBadRequest, "transaction id is required")
		return
	}
	if !strings.HasPrefix(txID, "0x") {
		txID = "0x" + txID
	}
	s, err := h.txs.AwaitSettlement(c.Request.Context(), txID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, TransactionResponse{Settlement: s, ErrorKind: s.ErrorKind()})
}

func (h *Handler) getDashboard(c *gin.Context) {
	d, err := h.dashboard.Dashboard(c.Request.Context(), c.QueryArray("patient")...)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, d)
}

func (h *Handler) getPatientDashboard(c *gin.Context) {
	d, err := h.dashboard.PatientDashboard(c.Request.Context(), c.QueryArray("patient")...)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, d)
}

func (h *Handler) getProviderDashboard(c *gin.Context) {
	d, err := h.dashboard.ProviderDashboard(c.Request.Context(), c.QueryArray("patient")...)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, d)
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func firstValue(values map[string][]string, key string) string {
	if v := values[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// readFiles reads at most one byte past the attachment limit so oversize files fail validation.
func readFiles(headers []*multipart.FileHeader) ([]mr.File, error) {
	files := make([]mr.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(io.LimitReader(f, mr.MaxAttachmentBytes+1))
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", fh.Filename, err)
		}
		files = append(files, mr.File{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	return files, nil
}
