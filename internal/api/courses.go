package api

import (
	"context"
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Course struct {
	ID          string `json:"id" koanf:"id"`
	Title       string `json:"title" koanf:"title"`
	Description string `json:"description,omitempty" koanf:"description"`
	PriceID     string `json:"priceId,omitempty" koanf:"price_id"`
}

// CourseCatalog lists published courses. page is 1-based.
type CourseCatalog interface {
	List(ctx context.Context, query string, page, pageSize int) ([]Course, int, error)
}

// StaticCatalog serves a fixed course list loaded at startup.
type StaticCatalog struct {
	courses []Course
}

func NewStaticCatalog(courses []Course) *StaticCatalog {
	return &StaticCatalog{courses: courses}
}

func (c *StaticCatalog) List(_ context.Context, query string, page, pageSize int) ([]Course, int, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	matched := make([]Course, 0, len(c.courses))
	for _, co := range c.courses {
		if query == "" ||
			strings.Contains(strings.ToLower(co.Title), query) ||
			strings.Contains(strings.ToLower(co.Description), query) {
			matched = append(matched, co)
		}
	}

	start := (page - 1) * pageSize
	if start >= len(matched) {
		return []Course{}, len(matched), nil
	}
	end := min(start+pageSize, len(matched))
	return matched[start:end], len(matched), nil
}

// LoadCourses reads a course list from a YAML file of the form
//
//	courses:
//	  - id: mindset-101
//	    title: Mindset Foundations
//	    price_id: price_123
func LoadCourses(path string) ([]Course, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load courses %s: %w", path, err)
	}
	var out []Course
	if err := k.Unmarshal("courses", &out); err != nil {
		return nil, fmt.Errorf("decode courses %s: %w", path, err)
	}
	for i, c := range out {
		if c.ID == "" || c.Title == "" {
			return nil, fmt.Errorf("courses %s: entry %d needs id and title", path, i)
		}
	}
	return out, nil
}
