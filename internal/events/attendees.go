package events

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"

	"event-rsvp/internal/models"
	"event-rsvp/internal/phone"
	"event-rsvp/internal/storage"
)

const csvTimeLayout = "2006-01-02 15:04"

// AttendeeView is one RSVP holder with their answers keyed by
// question id.
type AttendeeView struct {
	storage.Attendee
	Answers map[int64]string `json:"answers"`
}

// AttendeeList is the organizer view of an event's RSVPs.
type AttendeeList struct {
	Questions []models.EventQuestion `json:"questions"`
	Attendees []AttendeeView         `json:"attendees"`
}

// Attendees returns every RSVP with answers. Organizers only.
func (s *Service) Attendees(ctx context.Context, userID, eventID string) (*AttendeeList, error) {
	event, err := s.organizerEvent(ctx, userID, eventID, "Only organizers can view the attendee list.")
	if err != nil {
		return nil, err
	}
	return s.attendeeList(ctx, event)
}

func (s *Service) attendeeList(ctx context.Context, event *models.Event) (*AttendeeList, error) {
	questions, err := s.store.ListQuestions(ctx, event.ID)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.ListAttendees(ctx, event.ID)
	if err != nil {
		return nil, err
	}
	answers, err := s.store.ListEventAnswers(ctx, event.ID)
	if err != nil {
		return nil, err
	}

	byRSVP := make(map[string]map[int64]string)
	for _, a := range answers {
		if byRSVP[a.RSVPID] == nil {
			byRSVP[a.RSVPID] = make(map[int64]string)
		}
		byRSVP[a.RSVPID][a.QuestionID] = a.Answer
	}

	list := &AttendeeList{Questions: questions, Attendees: make([]AttendeeView, 0, len(rows))}
	for _, row := range rows {
		view := AttendeeView{Attendee: row, Answers: byRSVP[row.RSVPID]}
		if view.Answers == nil {
			view.Answers = map[int64]string{}
		}
		list.Attendees = append(list.Attendees, view)
	}
	return list, nil
}

// WriteAttendeesCSV exports the attendee list with one column per
// question. Organizers only.
func (s *Service) WriteAttendeesCSV(ctx context.Context, userID, eventID string, w io.Writer) error {
	event, err := s.organizerEvent(ctx, userID, eventID, "Only organizers can export the attendee list.")
	if err != nil {
		return err
	}
	list, err := s.attendeeList(ctx, event)
	if err != nil {
		return err
	}

	out := csv.NewWriter(w)
	header := []string{"Name", "Phone Number", "Status", "Updated"}
	for _, q := range list.Questions {
		header = append(header, q.Text)
	}
	if err := out.Write(header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	zone := event.Zone()
	for _, a := range list.Attendees {
		record := []string{
			a.Name,
			phone.Display(a.PhoneNumber),
			string(a.Status),
			a.UpdatedAt.In(zone).Format(csvTimeLayout),
		}
		for _, q := range list.Questions {
			record = append(record, a.Answers[q.ID])
		}
		if err := out.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	out.Flush()
	return out.Error()
}
