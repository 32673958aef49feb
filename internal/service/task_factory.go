package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"reservation-service/internal/apperrors"
	"reservation-service/internal/models"
	"reservation-service/internal/util"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Task template names.
const (
	TemplatePreArrivalCleaning     = "pre_arrival_cleaning"
	TemplateCheckIn                = "check_in"
	TemplateCheckOut               = "check_out"
	TemplatePostCheckoutCleaning   = "post_checkout_cleaning"
	TemplatePostCheckoutInspection = "post_checkout_inspection"
)

// Anchor is the reservation date a template is scheduled from.
type Anchor int

const (
	AnchorCheckIn Anchor = iota
	AnchorCheckOut
)

// TaskTemplate describes a task created for a reservation. Title and
// Description may contain {guestName}, {propertyName}, {propertyAddress},
// {checkIn}, {checkOut} and {reservationId}.
type TaskTemplate struct {
	Type         models.TaskType
	Title        string
	Description  string
	Priority     models.TaskPriority
	Cost         int64
	Tags         []string
	Anchor       Anchor
	Offset       time.Duration
	AssigneeRole string
}

const dateLayout = "2006-01-02 15:04 MST"

func defaultTemplates(cleaningCost int64) map[string]TaskTemplate {
	return map[string]TaskTemplate{
		TemplatePreArrivalCleaning: {
			Type:         models.TaskTypeCleaning,
			Title:        "Pre-arrival cleaning: {propertyName}",
			Description:  "Prepare {propertyName} ({propertyAddress}) for {guestName} arriving {checkIn}.",
			Priority:     models.TaskPriorityHigh,
			Cost:         cleaningCost,
			Tags:         []string{"cleaning", "pre-arrival"},
			Anchor:       AnchorCheckIn,
			Offset:       -24 * time.Hour,
			AssigneeRole: "cleaner",
		},
		TemplateCheckIn: {
			Type:         models.TaskTypeCheckIn,
			Title:        "Check-in: {guestName} at {propertyName}",
			Description:  "Welcome {guestName} at {propertyAddress} on {checkIn}. Reservation {reservationId}.",
			Priority:     models.TaskPriorityHigh,
			Tags:         []string{"check-in", "guest"},
			Anchor:       AnchorCheckIn,
			AssigneeRole: "agent",
		},
		TemplateCheckOut: {
			Type:         models.TaskTypeCheckOut,
			Title:        "Check-out: {guestName} at {propertyName}",
			Description:  "Collect keys from {guestName} at {propertyAddress} on {checkOut}. Reservation {reservationId}.",
			Priority:     models.TaskPriorityMedium,
			Tags:         []string{"check-out", "guest"},
			Anchor:       AnchorCheckOut,
			AssigneeRole: "agent",
		},
		TemplatePostCheckoutCleaning: {
			Type:         models.TaskTypeCleaning,
			Title:        "Post-checkout cleaning: {propertyName}",
			Description:  "Clean {propertyName} ({propertyAddress}) after {guestName} leaves on {checkOut}.",
			Priority:     models.TaskPriorityMedium,
			Cost:         cleaningCost,
			Tags:         []string{"cleaning", "post-checkout"},
			Anchor:       AnchorCheckOut,
			Offset:       2 * time.Hour,
			AssigneeRole: "cleaner",
		},
		TemplatePostCheckoutInspection: {
			Type:         models.TaskTypeInspection,
			Title:        "Inspection: {propertyName}",
			Description:  "Inspect {propertyName} for damage after reservation {reservationId}.",
			Priority:     models.TaskPriorityLow,
			Tags:         []string{"inspection", "post-checkout"},
			Anchor:       AnchorCheckOut,
			Offset:       3 * time.Hour,
			AssigneeRole: "agent",
		},
	}
}

// TaskFactory creates reservation tasks from named templates.
type TaskFactory struct {
	store     LedgerStore
	templates map[string]TaskTemplate
	logger    *zap.Logger
}

// NewTaskFactory creates a new task factory
func NewTaskFactory(store LedgerStore, cleaningCost int64) *TaskFactory {
	return &TaskFactory{
		store:     store,
		templates: defaultTemplates(cleaningCost),
		logger:    util.GetLogger(),
	}
}

// BuildTask renders a template for a reservation without storing it.
// guest may be nil.
func (f *TaskFactory) BuildTask(templateName string, r *models.Reservation, p *models.Property, guest *models.User) (*models.Task, error) {
	tmpl, ok := f.templates[templateName]
	if !ok {
		return nil, apperrors.InvalidArgument("unknown task template: %s", templateName)
	}

	base := r.CheckIn
	if tmpl.Anchor == AnchorCheckOut {
		base = r.CheckOut
	}

	replacer := placeholders(r, p, guest)
	reservationID := r.ID
	// Tasks are not assigned automatically yet, so AssigneeID stays nil.
	return &models.Task{
		PropertyID:    r.PropertyID,
		ReservationID: &reservationID,
		Type:          tmpl.Type,
		Status:        models.TaskStatusPending,
		Title:         replacer.Replace(tmpl.Title),
		Description:   replacer.Replace(tmpl.Description),
		Priority:      tmpl.Priority,
		ScheduledDate: base.Add(tmpl.Offset),
		Cost:          tmpl.Cost,
		Tags:          pq.StringArray(append([]string(nil), tmpl.Tags...)),
		AssigneeRole:  tmpl.AssigneeRole,
	}, nil
}

// CreateTaskFromTemplate renders a template and stores the task.
func (f *TaskFactory) CreateTaskFromTemplate(ctx context.Context, templateName string, r *models.Reservation, p *models.Property, guest *models.User) (*models.Task, error) {
	ctx, span := util.StartSpan(ctx, "TaskFactory.CreateTaskFromTemplate")
	defer span.End()

	task, err := f.BuildTask(templateName, r, p, guest)
	if err != nil {
		return nil, err
	}
	if err := f.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create %s task: %w", templateName, err)
	}

	f.logger.Info("Task created",
		zap.String("task_id", task.ID),
		zap.String("template", templateName),
		zap.String("reservation_id", r.ID),
		zap.Time("scheduled_date", task.ScheduledDate))
	return task, nil
}

func placeholders(r *models.Reservation, p *models.Property, guest *models.User) *strings.Replacer {
	guestName := "Guest"
	if guest != nil && guest.Name != "" {
		guestName = guest.Name
	}
	var propertyName, propertyAddress string
	if p != nil {
		propertyName, propertyAddress = p.Name, p.Address
	}
	return strings.NewReplacer(
		"{guestName}", guestName,
		"{propertyName}", propertyName,
		"{propertyAddress}", propertyAddress,
		"{checkIn}", r.CheckIn.UTC().Format(dateLayout),
		"{checkOut}", r.CheckOut.UTC().Format(dateLayout),
		"{reservationId}", r.ID,
	)
}
