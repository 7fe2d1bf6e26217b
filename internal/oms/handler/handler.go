package handler

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/es"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	es_translation "github.com/go-playground/validator/v10/translations/es"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/repository"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/service"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/sse"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// Handlers groups every HTTP handler of the order module.
type Handlers struct {
	Order     *OrderHandler
	Packaging *PackagingHandler
	Courier   *CourierHandler
	Treasury  *TreasuryHandler
	Siigo     *SiigoHandler
	Evidence  *EvidenceHandler
	SSE       *SSEHandler
	Report    *ReportHandler
}

// Enqueuer accepts invoice ids for background import.
type Enqueuer interface {
	Enqueue(externalID, trigger string) bool
}

func NewHandlers(svc *service.Services, hub *sse.Hub, queue Enqueuer, logger *zap.Logger) *Handlers {
	return &Handlers{
		Order:     NewOrderHandler(svc.Order),
		Packaging: NewPackagingHandler(svc.Packaging),
		Courier:   NewCourierHandler(svc.Custody),
		Treasury:  NewTreasuryHandler(svc.Treasury),
		Siigo:     NewSiigoHandler(svc.Siigo, queue, logger),
		Evidence:  NewEvidenceHandler(svc.Evidence),
		SSE:       NewSSEHandler(hub),
		Report:    NewReportHandler(svc.Report),
	}
}

// Response is the envelope of every JSON answer.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ListResponse is a paginated list.
type ListResponse struct {
	Items      interface{} `json:"items"`
	Pagination *Pagination `json:"pagination"`
}

type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

func NewPagination(page, pageSize int, total int64) *Pagination {
	pages := 0
	if pageSize > 0 {
		pages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}
	return &Pagination{Page: page, PageSize: pageSize, Total: int(total), TotalPages: pages}
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Code: 0, Message: "success", Data: data})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{Code: 0, Message: "success", Data: data})
}

// Error writes code as both the envelope code and, divided by 100, the HTTP
// status.
func Error(c *gin.Context, code int, message string) {
	ErrorWithData(c, code, message, nil)
}

func ErrorWithData(c *gin.Context, code int, message string, data interface{}) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = http.StatusInternalServerError
	}
	c.AbortWithStatusJSON(statusCode, Response{Code: code, Message: message, Data: data})
}

func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, 40400, message)
}

func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}

// RespondError maps service errors to status codes with a message fit for a
// toast.
func RespondError(c *gin.Context, err error) {
	var (
		transErr  *service.TransitionError
		checkErr  *service.ChecklistError
		amountErr *service.AmountError
		syncErr   *service.SyncError
		validErrs validator.ValidationErrors
	)
	switch {
	case errors.As(err, &validErrs):
		ErrorWithData(c, 40001, "datos inválidos", translate(validErrs))
	case errors.Is(err, service.ErrValidation):
		Error(c, 40002, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		Error(c, 40400, "registro no encontrado")
	case errors.Is(err, service.ErrForbidden):
		Error(c, 40300, err.Error())
	case errors.Is(err, service.ErrOrderNotAssignedToCourier):
		Error(c, 40301, err.Error())
	case errors.As(err, &transErr):
		ErrorWithData(c, 40900, err.Error(), gin.H{"from": transErr.From, "to": transErr.To})
	case errors.Is(err, service.ErrAlreadyDelivered):
		Error(c, 40901, err.Error())
	case errors.Is(err, service.ErrAlreadyClosed):
		Error(c, 40902, err.Error())
	case errors.Is(err, service.ErrDuplicateDeposit):
		Error(c, 40903, err.Error())
	case errors.Is(err, service.ErrDeclarationLocked):
		Error(c, 40904, err.Error())
	case errors.Is(err, service.ErrItemsFrozen):
		Error(c, 40905, err.Error())
	case errors.Is(err, service.ErrMovementImmutable):
		Error(c, 40906, err.Error())
	case errors.Is(err, service.ErrNothingToWriteBack):
		Error(c, 40907, err.Error())
	case errors.As(err, &checkErr):
		ErrorWithData(c, 42200, err.Error(), gin.H{"missing": checkErr.Missing, "need_evidence": checkErr.NeedEvidence})
	case errors.As(err, &amountErr):
		ErrorWithData(c, 42201, err.Error(), gin.H{
			"expected":  amountErr.Expected,
			"actual":    amountErr.Actual,
			"tolerance": amountErr.Tolerance,
		})
	case errors.Is(err, service.ErrEvidenceRequired):
		Error(c, 42202, err.Error())
	case errors.Is(err, service.ErrPackagingLocked):
		Error(c, 42300, err.Error())
	case errors.As(err, &syncErr):
		if syncErr.Retryable {
			Error(c, 50200, "SIIGO no respondió, se reintentará automáticamente: "+syncErr.Err.Error())
		} else {
			Error(c, 42203, "la factura de SIIGO requiere revisión manual: "+syncErr.Err.Error())
		}
	default:
		InternalError(c, "error interno del servidor")
	}
}

// GetUserID returns the authenticated user id.
func GetUserID(c *gin.Context) string {
	return c.GetString("user_id")
}

// GetActor builds the service actor from JWT claims.
func GetActor(c *gin.Context) service.Actor {
	return service.Actor{
		ID:    c.GetString("user_id"),
		Name:  c.GetString("user_name"),
		Roles: c.GetStringSlice("roles"),
	}
}

func GetPagination(c *gin.Context) (page, pageSize int) {
	page = 1
	pageSize = 20

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}

	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v
		}
	}

	return page, pageSize
}

// GetDateRange reads ?from=YYYY-MM-DD&to=YYYY-MM-DD.
func GetDateRange(c *gin.Context) (repository.DateRange, error) {
	var r repository.DateRange
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &r.From}, {"to", &r.To}} {
		v := c.Query(p.name)
		if v == "" {
			continue
		}
		t, err := time.ParseInLocation("2006-01-02", v, time.Local)
		if err != nil {
			return r, fmt.Errorf("%w: fecha %s inválida, use AAAA-MM-DD", service.ErrValidation, p.name)
		}
		*p.dst = &t
	}
	return r, nil
}

// queryFilters copies the named query parameters that are present.
func queryFilters(c *gin.Context, names ...string) map[string]string {
	filters := make(map[string]string)
	for _, n := range names {
		if v := strings.TrimSpace(c.Query(n)); v != "" {
			filters[n] = v
		}
	}
	return filters
}

func writeExcel(c *gin.Context, f *excelize.File, filename string) {
	defer f.Close()
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename=\""+filename+"\"")
	c.Header("Content-Transfer-Encoding", "binary")
	if err := f.Write(c.Writer); err != nil {
		_ = c.Error(err)
	}
}

var (
	trans     ut.Translator
	transOnce sync.Once
)

// InitValidator registers Spanish messages on gin's validator.
func InitValidator() error {
	var err error
	transOnce.Do(func() {
		validate, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			err = fmt.Errorf("unexpected validator engine")
			return
		}
		esT := es.New()
		uni := ut.New(esT, esT)
		trans, _ = uni.GetTranslator("es")
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		err = es_translation.RegisterDefaultTranslations(validate, trans)
	})
	return err
}

func translate(errs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(errs))
	for _, e := range errs {
		if trans != nil {
			out[e.Field()] = e.Translate(trans)
		} else {
			out[e.Field()] = e.Error()
		}
	}
	return out
}
