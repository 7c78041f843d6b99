// Package calendar reads events and manages task lists on a CalDAV
// server. Events feed the command interpreter and the morning
// briefing; task lists are VTODO collections under a shared home set.
package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"

	"github.com/nugget/choombridge/internal/commands"
)

// Client wraps one CalDAV account: an events collection and a home set
// of VTODO task lists.
type Client struct {
	dav       *caldav.Client
	eventPath string
	tasksHome string
	loc       *time.Location
	logger    *slog.Logger
}

// New creates a calendar client. calendarURL points at the events
// collection, tasksURL at the collection home holding the task lists.
func New(calendarURL, tasksURL, username, password string, loc *time.Location, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}

	endpoint, eventPath, err := splitCollection(calendarURL)
	if err != nil {
		return nil, fmt.Errorf("calendar url: %w", err)
	}
	_, tasksHome, err := splitCollection(tasksURL)
	if err != nil {
		return nil, fmt.Errorf("tasks url: %w", err)
	}

	httpClient := webdav.HTTPClientWithBasicAuth(&http.Client{Timeout: 30 * time.Second}, username, password)
	dav, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("caldav client: %w", err)
	}

	return &Client{
		dav:       dav,
		eventPath: eventPath,
		tasksHome: tasksHome,
		loc:       loc,
		logger:    logger,
	}, nil
}

// splitCollection separates a collection URL into the server endpoint
// and the collection path.
func splitCollection(raw string) (endpoint, path string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", "", fmt.Errorf("not an absolute URL: %q", raw)
	}
	endpoint = u.Scheme + "://" + u.Host
	path = u.Path
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return endpoint, path, nil
}

// EventsBetween returns events starting in [from, to), sorted by the
// server's report order.
func (c *Client) EventsBetween(ctx context.Context, from, to time.Time) ([]commands.Event, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:  ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{Name: ical.CompEvent, AllProps: true}},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: from.UTC(),
				End:   to.UTC(),
			}},
		},
	}

	objects, err := c.dav.QueryCalendar(ctx, c.eventPath, query)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	var events []commands.Event
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		for _, ev := range obj.Data.Events() {
			converted, err := c.convertEvent(ev)
			if err != nil {
				c.logger.Warn("skipping unparseable event", "path", obj.Path, "error", err)
				continue
			}
			// The server may return the whole recurrence set; keep the
			// window tight.
			if converted.Start.Before(from) || !converted.Start.Before(to) {
				continue
			}
			events = append(events, converted)
		}
	}
	return events, nil
}

func (c *Client) convertEvent(ev ical.Event) (commands.Event, error) {
	start, err := ev.DateTimeStart(c.loc)
	if err != nil {
		return commands.Event{}, fmt.Errorf("dtstart: %w", err)
	}
	end, err := ev.DateTimeEnd(c.loc)
	if err != nil {
		end = start
	}

	out := commands.Event{
		Start: start,
		End:   end,
	}
	if p := ev.Props.Get(ical.PropUID); p != nil {
		out.ID = p.Value
	}
	if p := ev.Props.Get(ical.PropSummary); p != nil {
		out.Summary = p.Value
	}
	if p := ev.Props.Get(ical.PropLocation); p != nil {
		out.Location = p.Value
	}
	if p := ev.Props.Get(ical.PropDateTimeStart); p != nil {
		out.AllDay = p.ValueType() == ical.ValueDate
	}
	return out, nil
}

// taskList finds a VTODO collection in the home set by display name.
func (c *Client) taskList(ctx context.Context, name string) (*caldav.Calendar, error) {
	calendars, err := c.dav.FindCalendars(ctx, c.tasksHome)
	if err != nil {
		return nil, fmt.Errorf("find task lists: %w", err)
	}
	for i := range calendars {
		if !supportsTodos(&calendars[i]) {
			continue
		}
		if strings.EqualFold(calendars[i].Name, name) {
			return &calendars[i], nil
		}
	}
	return nil, fmt.Errorf("no task list named %q", name)
}

func supportsTodos(cal *caldav.Calendar) bool {
	if len(cal.SupportedComponentSet) == 0 {
		return true
	}
	for _, comp := range cal.SupportedComponentSet {
		if comp == ical.CompToDo {
			return true
		}
	}
	return false
}

// ListTitles returns the display names of all task lists.
func (c *Client) ListTitles(ctx context.Context) ([]string, error) {
	calendars, err := c.dav.FindCalendars(ctx, c.tasksHome)
	if err != nil {
		return nil, fmt.Errorf("find task lists: %w", err)
	}
	var titles []string
	for i := range calendars {
		if supportsTodos(&calendars[i]) && calendars[i].Name != "" {
			titles = append(titles, calendars[i].Name)
		}
	}
	return titles, nil
}

// ListItems returns the open items on a list; completed todos are
// skipped.
func (c *Client) ListItems(ctx context.Context, list string) ([]string, error) {
	cal, err := c.taskList(ctx, list)
	if err != nil {
		return nil, err
	}
	todos, err := c.queryTodos(ctx, cal.Path)
	if err != nil {
		return nil, err
	}

	var items []string
	for _, todo := range todos {
		if todo.completed {
			continue
		}
		items = append(items, todo.summary)
	}
	return items, nil
}

// AddItem creates a new VTODO on the list.
func (c *Client) AddItem(ctx context.Context, list, item string) error {
	cal, err := c.taskList(ctx, list)
	if err != nil {
		return err
	}

	uid := uuid.NewString()
	todo := ical.NewComponent(ical.CompToDo)
	todo.Props.SetText(ical.PropUID, uid)
	todo.Props.SetText(ical.PropSummary, item)
	todo.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())

	obj := ical.NewCalendar()
	obj.Props.SetText(ical.PropVersion, "2.0")
	obj.Props.SetText(ical.PropProductID, "-//choombridge//caldav//EN")
	obj.Children = append(obj.Children, todo)

	path := cal.Path
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	if _, err := c.dav.PutCalendarObject(ctx, path+uid+".ics", obj); err != nil {
		return fmt.Errorf("create todo: %w", err)
	}
	return nil
}

// RemoveItem deletes the first open todo whose summary matches item
// case-insensitively. Returns false when nothing matched.
func (c *Client) RemoveItem(ctx context.Context, list, item string) (bool, error) {
	cal, err := c.taskList(ctx, list)
	if err != nil {
		return false, err
	}
	todos, err := c.queryTodos(ctx, cal.Path)
	if err != nil {
		return false, err
	}

	for _, todo := range todos {
		if todo.completed || !strings.EqualFold(todo.summary, item) {
			continue
		}
		if err := c.dav.RemoveAll(ctx, todo.path); err != nil {
			return false, fmt.Errorf("delete todo: %w", err)
		}
		return true, nil
	}
	return false, nil
}

type todoItem struct {
	path      string
	summary   string
	completed bool
}

func (c *Client) queryTodos(ctx context.Context, listPath string) ([]todoItem, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:  ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{Name: ical.CompToDo, AllProps: true}},
		},
		CompFilter: caldav.CompFilter{
			Name:  ical.CompCalendar,
			Comps: []caldav.CompFilter{{Name: ical.CompToDo}},
		},
	}

	objects, err := c.dav.QueryCalendar(ctx, listPath, query)
	if err != nil {
		return nil, fmt.Errorf("query todos: %w", err)
	}

	var todos []todoItem
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		for _, child := range obj.Data.Children {
			if child.Name != ical.CompToDo {
				continue
			}
			item := todoItem{path: obj.Path}
			if p := child.Props.Get(ical.PropSummary); p != nil {
				item.summary = p.Value
			}
			if p := child.Props.Get(ical.PropStatus); p != nil {
				item.completed = strings.EqualFold(p.Value, "COMPLETED")
			}
			todos = append(todos, item)
		}
	}
	return todos, nil
}
