package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-operations/internal/access"
	"github.com/hackgods/hospital-operations/internal/appointment"
	"github.com/hackgods/hospital-operations/internal/audit"
	"github.com/hackgods/hospital-operations/internal/billing"
	"github.com/hackgods/hospital-operations/internal/identity"
	"github.com/hackgods/hospital-operations/internal/inventory"
	"github.com/hackgods/hospital-operations/internal/metrics"
	"github.com/hackgods/hospital-operations/internal/patient"
	"github.com/hackgods/hospital-operations/internal/visit"
)

type IdentityService interface {
	VerifyLogin(ctx context.Context, username, password, sourceAddr string) (*identity.LoginResult, error)
	CreateUser(ctx context.Context, username, password string, role access.Role, actor int64) (*identity.User, error)
	DeactivateUser(ctx context.Context, userID, actor int64) error
	ReactivateUser(ctx context.Context, userID, actor int64) error
	ChangePassword(ctx context.Context, userID int64, oldPassword, newPassword string) error
	AssignRole(ctx context.Context, userID int64, role access.Role, actor int64) error
	ListUsers(ctx context.Context, role *access.Role, actor int64) ([]identity.User, error)
	GetUser(ctx context.Context, userID, actor int64) (*identity.User, error)
}

type PatientService interface {
	Register(ctx context.Context, reg patient.Registration, actor int64) (*patient.Patient, error)
	Get(ctx context.Context, id, actor int64) (*patient.Patient, error)
	Search(ctx context.Context, query string, limit int, actor int64) ([]patient.Patient, error)
}

type SchedulingService interface {
	BookAppointment(ctx context.Context, req appointment.BookingRequest, actor int64) (*appointment.Appointment, error)
	ConfirmAppointment(ctx context.Context, id, actor int64) (*appointment.Appointment, error)
	CancelAppointment(ctx context.Context, id, actor int64) (*appointment.Appointment, error)
	SetDoctorStatus(ctx context.Context, doctorID int64, status appointment.DoctorStatus, actor int64) error
	ListTimeSlots(ctx context.Context, actor int64) ([]appointment.TimeSlot, error)
	ListDoctors(ctx context.Context, departmentID *int64, actor int64) ([]appointment.Doctor, error)
	GetAppointment(ctx context.Context, id, actor int64) (*appointment.AppointmentDetail, error)
	DoctorSchedule(ctx context.Context, doctorID int64, date time.Time, actor int64) ([]appointment.AppointmentDetail, error)
	DailyQueue(ctx context.Context, date time.Time, status *appointment.Status, actor int64) ([]appointment.AppointmentDetail, error)
	Search(ctx context.Context, f appointment.ScheduleFilter, actor int64) ([]appointment.AppointmentDetail, error)
	AvailableSlots(ctx context.Context, doctorID int64, date time.Time, actor int64) ([]appointment.TimeSlot, error)
}

type VisitService interface {
	StartVisit(ctx context.Context, appointmentID, doctorID int64, note string, actor int64) (*visit.Visit, error)
	AddDiagnosis(ctx context.Context, visitID, diagnosisID int64, note string, actor int64) (*visit.VisitDiagnosis, error)
	AddVisitService(ctx context.Context, visitID, serviceID int64, qty int, actor int64) (*visit.VisitService, error)
	CreatePrescription(ctx context.Context, visitID, doctorID int64, note string, actor int64) (*visit.Prescription, error)
	AddPrescriptionItem(ctx context.Context, in visit.PrescriptionItemInput, actor int64) (*visit.PrescriptionItem, error)
	EndVisit(ctx context.Context, visitID, actor int64) (*billing.Invoice, error)
	GetVisit(ctx context.Context, visitID, actor int64) (*visit.Detail, error)
	GetPrescription(ctx context.Context, prescriptionID, actor int64) (*visit.PrescriptionDetail, error)
	PatientHistory(ctx context.Context, patientID, actor int64) ([]visit.HistoryEntry, error)
	DiagnosisCatalog(ctx context.Context, actor int64) ([]visit.Diagnosis, error)
	ServiceCatalog(ctx context.Context, actor int64) ([]visit.MedicalService, error)
}

type InventoryService interface {
	Dispense(ctx context.Context, prescriptionID, itemID int64, qty int, actor int64) (*inventory.DispenseResult, error)
	ReceiveBatch(ctx context.Context, req inventory.ReceiveRequest, actor int64) (*inventory.Batch, error)
	ListItems(ctx context.Context, actor int64) ([]inventory.Item, error)
	StockLevel(ctx context.Context, itemID, actor int64) (*inventory.StockLevel, error)
	StockAlerts(ctx context.Context, actor int64) ([]inventory.StockLevel, error)
	BatchStatus(ctx context.Context, f inventory.BatchFilter, actor int64) ([]inventory.BatchStatus, error)
	ExpiringBatches(ctx context.Context, withinDays int, actor int64) ([]inventory.BatchStatus, error)
	Movements(ctx context.Context, itemID int64, limit int, actor int64) ([]inventory.Movement, error)
}

type BillingService interface {
	RecordPayment(ctx context.Context, invoiceID int64, amount decimal.Decimal, method billing.Method, actor int64) (*billing.PaymentResult, error)
	GetInvoice(ctx context.Context, id, actor int64) (*billing.InvoiceDetail, error)
	GetInvoiceByVisit(ctx context.Context, visitID, actor int64) (*billing.InvoiceDetail, error)
	InvoiceTracker(ctx context.Context, status *billing.InvoiceStatus, limit int, actor int64) ([]billing.TrackerRow, error)
	MonthlyRevenue(ctx context.Context, from, to time.Time, actor int64) ([]billing.RevenueRow, error)
}

type AuditService interface {
	AuditTrail(ctx context.Context, actor int64, f audit.TrailFilter) ([]audit.Entry, error)
	Notifications(ctx context.Context, actor int64, limit int) ([]audit.Notification, error)
	UnreadCount(ctx context.Context, actor int64) (int, error)
	MarkAllRead(ctx context.Context, actor int64) (int64, error)
}

type Services struct {
	Identity   IdentityService
	Patients   PatientService
	Scheduling SchedulingService
	Visits     VisitService
	Inventory  InventoryService
	Billing    BillingService
	Audit      AuditService
}

type RouterConfig struct {
	Services    Services
	Health      *HealthHandler
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	ServiceName string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handler{svc: cfg.Services, metrics: cfg.Metrics, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(RequestID)
	r.Use(Recover(logger))
	r.Use(Tracing(cfg.ServiceName))
	r.Use(Logger(logger))
	r.Use(Metrics(cfg.Metrics))

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	r.Post("/auth/login", h.op("login", h.login))

	r.Group(func(r chi.Router) {
		r.Use(RequireActor)

		r.Post("/auth/password", h.op("change_password", h.changePassword))

		r.Route("/users", func(r chi.Router) {
			r.Get("/", h.op("list_users", h.listUsers))
			r.Post("/", h.op("create_user", h.createUser))
			r.Get("/{id}", h.op("get_user", h.getUser))
			r.Post("/{id}/deactivate", h.op("deactivate_user", h.deactivateUser))
			r.Post("/{id}/reactivate", h.op("reactivate_user", h.reactivateUser))
			r.Post("/{id}/roles", h.op("assign_role", h.assignRole))
		})

		r.Route("/patients", func(r chi.Router) {
			r.Post("/", h.op("register_patient", h.registerPatient))
			r.Get("/", h.op("search_patients", h.searchPatients))
			r.Get("/{id}", h.op("get_patient", h.getPatient))
			r.Get("/{id}/history", h.op("patient_history", h.patientHistory))
		})

		r.Get("/timeslots", h.op("list_timeslots", h.listTimeSlots))
		r.Route("/doctors", func(r chi.Router) {
			r.Get("/", h.op("list_doctors", h.listDoctors))
			r.Put("/{id}/status", h.op("set_doctor_status", h.setDoctorStatus))
			r.Get("/{id}/schedule", h.op("doctor_schedule", h.doctorSchedule))
			r.Get("/{id}/available-slots", h.op("available_slots", h.availableSlots))
		})
		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", h.op("book_appointment", h.bookAppointment))
			r.Get("/", h.op("search_appointments", h.searchAppointments))
			r.Get("/queue", h.op("daily_queue", h.dailyQueue))
			r.Get("/{id}", h.op("get_appointment", h.getAppointment))
			r.Post("/{id}/confirm", h.op("confirm_appointment", h.confirmAppointment))
			r.Post("/{id}/cancel", h.op("cancel_appointment", h.cancelAppointment))
		})

		r.Get("/catalog/diagnoses", h.op("diagnosis_catalog", h.diagnosisCatalog))
		r.Get("/catalog/services", h.op("service_catalog", h.serviceCatalog))
		r.Route("/visits", func(r chi.Router) {
			r.Post("/", h.op("start_visit", h.startVisit))
			r.Get("/{id}", h.op("get_visit", h.getVisit))
			r.Post("/{id}/diagnoses", h.op("add_diagnosis", h.addDiagnosis))
			r.Post("/{id}/services", h.op("add_visit_service", h.addVisitService))
			r.Post("/{id}/prescription", h.op("create_prescription", h.createPrescription))
			r.Post("/{id}/end", h.op("end_visit", h.endVisit))
			r.Get("/{id}/invoice", h.op("get_visit_invoice", h.getVisitInvoice))
		})
		r.Route("/prescriptions/{id}", func(r chi.Router) {
			r.Get("/", h.op("get_prescription", h.getPrescription))
			r.Post("/items", h.op("add_prescription_item", h.addPrescriptionItem))
			r.Post("/items/{itemID}/dispense", h.op("dispense", h.dispense))
		})

		r.Route("/inventory", func(r chi.Router) {
			r.Get("/items", h.op("list_items", h.listItems))
			r.Get("/items/{id}/stock", h.op("stock_level", h.stockLevel))
			r.Get("/items/{id}/movements", h.op("stock_movements", h.movements))
			r.Get("/alerts", h.op("stock_alerts", h.stockAlerts))
			r.Get("/batches", h.op("batch_status", h.batchStatus))
			r.Get("/batches/expiring", h.op("expiring_batches", h.expiringBatches))
			r.Post("/batches", h.op("receive_batch", h.receiveBatch))
		})

		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", h.op("invoice_tracker", h.invoiceTracker))
			r.Get("/{id}", h.op("get_invoice", h.getInvoice))
			r.Post("/{id}/payments", h.op("record_payment", h.recordPayment))
		})
		r.Get("/reports/revenue", h.op("monthly_revenue", h.monthlyRevenue))

		r.Get("/audit", h.op("audit_trail", h.auditTrail))
		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", h.op("notifications", h.notifications))
			r.Get("/unread-count", h.op("unread_count", h.unreadCount))
			r.Post("/read", h.op("mark_all_read", h.markAllRead))
		})
	})

	return r
}
