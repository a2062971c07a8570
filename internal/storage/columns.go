package storage

import (
	"encoding/json"
	"fmt"
	"time"
)

const sourceTimeLayout = "2006-01-02 15:04:05.000000"

var timeLayouts = []string{
	time.RFC3339Nano,
	sourceTimeLayout,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
}

type jsonColumn struct {
	dst any
}

func (c *jsonColumn) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("json column: unsupported type %T", src)
	}
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, c.dst)
}

type timeColumn struct {
	t     time.Time
	valid bool
}

func (c *timeColumn) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		c.valid = false
		return nil
	case time.Time:
		c.t, c.valid = v.UTC(), true
		return nil
	case []byte:
		return c.parse(string(v))
	case string:
		return c.parse(v)
	}
	return fmt.Errorf("time column: unsupported type %T", src)
}

func (c *timeColumn) parse(s string) error {
	t, err := parseTime(s, time.UTC)
	if err != nil {
		return err
	}
	c.t, c.valid = t.UTC(), true
	return nil
}

func (c *timeColumn) ptr() *time.Time {
	if !c.valid {
		return nil
	}
	t := c.t
	return &t
}

type sourceTimeColumn struct {
	loc *time.Location
	t   time.Time
}

func (c *sourceTimeColumn) Scan(src any) error {
	loc := c.loc
	if loc == nil {
		loc = time.UTC
	}
	switch v := src.(type) {
	case nil:
		return nil
	case time.Time:
		c.t = time.Date(v.Year(), v.Month(), v.Day(), v.Hour(), v.Minute(), v.Second(), v.Nanosecond(), loc)
		return nil
	case []byte:
		t, err := parseTime(string(v), loc)
		c.t = t
		return err
	case string:
		t, err := parseTime(v, loc)
		c.t = t
		return err
	}
	return fmt.Errorf("source time column: unsupported type %T", src)
}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp %q", s)
}
