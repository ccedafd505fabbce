package rtree

import (
	"fmt"
	"reflect"

	"github.com/Geomatys/geotoolkit-sub067/envelope"
)

// TreeElementMapper binds application elements to the fixed-width
// identifiers stored in the leaves of a tree.
//
// Identifiers are assigned by the tree, once per element, and are not reused
// while the element is bound. A mapper backing a persisted tree must be able
// to answer for the identifiers recorded in it when the tree is reopened.
type TreeElementMapper interface {
	// Envelope returns the bounding envelope of element. It must be stable
	// while the element is indexed.
	Envelope(element interface{}) (envelope.Envelope, error)

	// TreeIdentifier returns the identifier bound to element, or an error
	// wrapping ErrUnknownElement.
	TreeIdentifier(element interface{}) (int64, error)

	// SetTreeIdentifier binds element to id.
	SetTreeIdentifier(element interface{}, id int64) error

	// ObjectFromTreeIdentifier returns the element bound to id, or an error
	// wrapping ErrUnknownIdentifier.
	ObjectFromTreeIdentifier(id int64) (interface{}, error)

	// Clear drops every binding.
	Clear()
}

// Spatial is implemented by elements that know their own envelope.
type Spatial interface {
	Envelope() envelope.Envelope
}

// EnvelopeFunc computes the envelope of an element.
type EnvelopeFunc func(element interface{}) (envelope.Envelope, error)

// Mapper is the default TreeElementMapper. Elements are used as map keys, so
// they must be comparable; pointers and small value types both work.
type Mapper struct {
	envelopeOf EnvelopeFunc
	ids        map[interface{}]int64
	elements   map[int64]interface{}
}

// NewMapper creates a mapper computing envelopes with fn. When fn is nil,
// elements must implement Spatial.
func NewMapper(fn EnvelopeFunc) *Mapper {
	return &Mapper{
		envelopeOf: fn,
		ids:        make(map[interface{}]int64),
		elements:   make(map[int64]interface{}),
	}
}

func checkElement(element interface{}) error {
	if element == nil {
		return ErrNilElement
	}
	if !reflect.TypeOf(element).Comparable() {
		return fmt.Errorf("%w: %T", ErrUncomparableElement, element)
	}
	return nil
}

// Envelope implements TreeElementMapper.
func (m *Mapper) Envelope(element interface{}) (envelope.Envelope, error) {
	if err := checkElement(element); err != nil {
		return envelope.Envelope{}, err
	}
	if m.envelopeOf != nil {
		return m.envelopeOf(element)
	}
	s, ok := element.(Spatial)
	if !ok {
		return envelope.Envelope{}, fmt.Errorf("%w: %T has no envelope", ErrUnknownElement, element)
	}
	return s.Envelope(), nil
}

// TreeIdentifier implements TreeElementMapper.
func (m *Mapper) TreeIdentifier(element interface{}) (int64, error) {
	if err := checkElement(element); err != nil {
		return 0, err
	}
	id, ok := m.ids[element]
	if !ok {
		return 0, fmt.Errorf("%w: %v", ErrUnknownElement, element)
	}
	return id, nil
}

// SetTreeIdentifier implements TreeElementMapper.
func (m *Mapper) SetTreeIdentifier(element interface{}, id int64) error {
	if err := checkElement(element); err != nil {
		return err
	}
	if old, ok := m.ids[element]; ok {
		delete(m.elements, old)
	}
	m.ids[element] = id
	m.elements[id] = element
	return nil
}

// ObjectFromTreeIdentifier implements TreeElementMapper.
func (m *Mapper) ObjectFromTreeIdentifier(id int64) (interface{}, error) {
	e, ok := m.elements[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownIdentifier, id)
	}
	return e, nil
}

// Clear implements TreeElementMapper.
func (m *Mapper) Clear() {
	m.ids = make(map[interface{}]int64)
	m.elements = make(map[int64]interface{})
}

// Len returns the number of bound elements.
func (m *Mapper) Len() int { return len(m.ids) }
