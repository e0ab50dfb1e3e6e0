package model

// Column describes one column of the policy grid. Width is a layout hint
// in pixels.
type Column struct {
	Field  string `json:"field"`
	Header string `json:"header"`
	Width  int    `json:"width"`
}

var columns = []Column{
	{Field: FieldName, Header: "Policy Name", Width: 200},
	{Field: FieldDescription, Header: "Description", Width: 400},
	{Field: FieldFingerprint, Header: "Fingerprint", Width: 150},
	{Field: FieldType, Header: "Policy Type", Width: 150},
	{Field: FieldCreationTimestamp, Header: "Creation", Width: 250},
	{Field: FieldRules, Header: "Rules", Width: 250},
}

// Columns returns a copy of the fixed column schema.
func Columns() []Column {
	return append([]Column(nil), columns...)
}

// LookupColumn finds the column declared for field.
func LookupColumn(field string) (Column, bool) {
	for _, c := range columns {
		if c.Field == field {
			return c, true
		}
	}
	return Column{}, false
}

// Cells returns the record's values in column order.
func (p PolicyRecord) Cells() []string {
	cells := make([]string, len(columns))
	for i, c := range columns {
		cells[i] = p.Field(c.Field)
	}
	return cells
}
