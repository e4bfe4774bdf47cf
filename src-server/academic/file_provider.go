package academic

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var ErrYearNotFound = errors.New("academic year not found")

type calendarFile struct {
	AcademicYears []AcademicYear `yaml:"academicYears"`
}

// FileProvider serves academic calendars read from a YAML document, for
// deployments where the academic-year screens are not wired to this service.
type FileProvider struct {
	years map[string]AcademicYear
}

func NewFileProvider(path string) (*FileProvider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("NewFileProvider: %w", err)
	}
	return ParseFileProvider(raw)
}

func ParseFileProvider(raw []byte) (*FileProvider, error) {
	var file calendarFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("ParseFileProvider: %w", err)
	}
	p := &FileProvider{years: make(map[string]AcademicYear, len(file.AcademicYears))}
	for _, year := range file.AcademicYears {
		switch {
		case year.ID == "":
			return nil, fmt.Errorf("ParseFileProvider: academic year id is blank")
		case year.EndDate.Before(year.StartDate):
			return nil, fmt.Errorf("ParseFileProvider: academic year %s ends before it starts", year.ID)
		}
		if _, dup := p.years[year.ID]; dup {
			return nil, fmt.Errorf("ParseFileProvider: duplicate academic year %s", year.ID)
		}
		p.years[year.ID] = year
	}
	return p, nil
}

func (p *FileProvider) GetAcademicYear(_ context.Context, id string) (AcademicYear, error) {
	year, ok := p.years[id]
	if !ok {
		return AcademicYear{}, fmt.Errorf("%w: %s", ErrYearNotFound, id)
	}
	return year, nil
}

func (p *FileProvider) GetActiveTerms(_ context.Context, academicYearID string) ([]Term, error) {
	year, ok := p.years[academicYearID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrYearNotFound, academicYearID)
	}
	terms := make([]Term, 0, len(year.Terms))
	for _, term := range year.Terms {
		if term.IsActive {
			terms = append(terms, term)
		}
	}
	return terms, nil
}

func (p *FileProvider) GetConstraints(_ context.Context, academicYearID string) ([]Constraint, error) {
	year, ok := p.years[academicYearID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrYearNotFound, academicYearID)
	}
	return append([]Constraint(nil), year.Constraints...), nil
}
