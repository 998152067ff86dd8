package parse

import (
	"encoding/json"
	"reflect"
	"testing"
)

const sampleOrder = `OSDE - Orden de prácticas
Dra. Romina Moretti
Médica / Endocrinología
M.P. 12345 - Romina Moretti
Paciente: Ana Gómez
Fecha de nacimiento: 14/07/1985
Fecha de emisión: 05/03/2024
Rp./
865 - TIROTROFINA (TSH)
Diagnóstico: 62315008 - diarrea
`

func TestParseSampleOrder(t *testing.T) {
	f := Parse(sampleOrder)
	if f.Physician == nil || *f.Physician != "Romina Moretti" {
		t.Fatalf("physician = %v", f.Physician)
	}
	if f.Specialty == nil || *f.Specialty != "Endocrinología" {
		t.Fatalf("specialty = %v", f.Specialty)
	}
	if f.IssuedOn == nil || *f.IssuedOn != "2024-03-05" {
		t.Fatalf("issued on = %v", f.IssuedOn)
	}
	if !reflect.DeepEqual(f.Studies, []string{"TIROTROFINA (TSH)"}) {
		t.Fatalf("studies = %v", f.Studies)
	}
	if f.Diagnosis == nil || *f.Diagnosis != "diarrea" {
		t.Fatalf("diagnosis = %v", f.Diagnosis)
	}
}

func TestIssuedOn(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
		ok   bool
	}{
		{"no date", "Orden sin fecha alguna", "", false},
		{"only birth date", "Paciente Ana. Fecha de nacimiento: 01/02/1990", "", false},
		{"birth then issue", "Nacimiento 01/02/1990 - emitida 10/11/2023", "2023-11-10", true},
		{"far from birth", "nacimiento ........................................ 03/04/2024", "2024-04-03", true},
		{"two digit year", "Fecha 7/8/24", "2024-08-07", true},
		{"impossible date skipped", "31/02/2024 y luego 01/03/2024", "2024-03-01", true},
		{"long form", "Buenos Aires, 5 de setiembre de 2024", "2024-09-05", true},
		{"iso", "emitido 2024-01-15 10:00", "2024-01-15", true},
		{"long form birth", "nacimiento: 2 de mayo de 1970", "", false},
		{"birth line above issue line", "Fecha de nacimiento: 01/02/1980\nFecha: 12/03/2024\n", "2024-03-12", true},
		{"birth slash then long form", "Nacimiento 01/02/1980 emitida 5 de marzo de 2024", "2024-03-05", true},
		{"birth label on own line", "Fecha de nacimiento:\n01/02/1980", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := IssuedOn(tt.text)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("IssuedOn(%q) = %q, %v; want %q, %v", tt.text, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestPhysicianCascade(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"title line", "Consultorio\nDr. Juan Pérez\nCABA", "Juan Pérez"},
		{"title inline", "Firmado por Dra. María Laura Suárez, M.P. 55", "María Laura Suárez"},
		{"requester label", "Médico(a) solicitante: Dr. Pablo Ríos", "Pablo Ríos"},
		{"licence", "M.N. 99887 - Carla Benítez", "Carla Benítez"},
		{"profesional label", "Profesional: Sergio Vidal", "Sergio Vidal"},
		{"upper case letterhead", "OSDE\nDRA. ROMINA MORETTI\nENDOCRINOLOGIA", "ROMINA MORETTI"},
		{"upper case inline", "Firma: DR. PABLO RIOS, M.N. 1234", "PABLO RIOS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Physician(tt.text)
			if !ok || got != tt.want {
				t.Fatalf("Physician() = %q, %v; want %q", got, ok, tt.want)
			}
		})
	}
	if _, ok := Physician("sin profesional identificado"); ok {
		t.Fatalf("expected no physician")
	}
}

func TestStudiesCascade(t *testing.T) {
	rp := "Encabezado 123 - no es estudio\nRp./\n865 - TIROTROFINA (TSH)\nDiagnóstico: 62315008 - diarrea\n"
	got, _ := Studies(rp)
	if !reflect.DeepEqual(got, []string{"TIROTROFINA (TSH)"}) {
		t.Fatalf("rp studies = %v", got)
	}

	inline := "Rp./ 4021 - HEMOGRAMA COMPLETO\n4022 - GLUCEMIA\n4022 - GLUCEMIA\n"
	got, _ = Studies(inline)
	if !reflect.DeepEqual(got, []string{"HEMOGRAMA COMPLETO", "GLUCEMIA"}) {
		t.Fatalf("inline rp studies = %v", got)
	}

	footer := "Rp./\n\n865 - TIROTROFINA\n\nAtención al socio\n0800 - 333 6733\n"
	got, _ = Studies(footer)
	if !reflect.DeepEqual(got, []string{"TIROTROFINA"}) {
		t.Fatalf("rp block must end at the first non-study line, got %v", got)
	}

	coded := "Orden\n0101 - ECOGRAFIA ABDOMINAL\n"
	got, _ = Studies(coded)
	if !reflect.DeepEqual(got, []string{"ECOGRAFIA ABDOMINAL"}) {
		t.Fatalf("coded studies = %v", got)
	}

	keywords := "Solicito:\n- Ecografía renal\n2) RESONANCIA de rodilla\n• ecografia renal\nControl en 30 días\n"
	got, _ = Studies(keywords)
	if !reflect.DeepEqual(got, []string{"Ecografía renal", "RESONANCIA de rodilla"}) {
		t.Fatalf("keyword studies = %v", got)
	}

	if _, ok := Studies("texto sin estudios"); ok {
		t.Fatalf("expected no studies")
	}
}

func TestParseEmptyText(t *testing.T) {
	f := Parse("")
	if f.Physician != nil || f.Specialty != nil || f.IssuedOn != nil || f.Studies != nil || f.Diagnosis != nil {
		t.Fatalf("expected all nil, got %+v", f)
	}
	raw, err := f.JSON()
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	if err := ValidateFields(raw); err != nil {
		t.Fatalf("empty fields must validate: %v", err)
	}
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	if _, ok := m["studies"].([]any); !ok {
		t.Fatalf("studies must be an array, got %s", raw)
	}
}

func TestValidateFieldsRejectsBadShapes(t *testing.T) {
	bad := []string{
		`{"physician":null,"specialty":null,"issued_on":"05/03/2024","studies":[],"diagnosis":null}`,
		`{"physician":null,"specialty":null,"issued_on":null,"studies":[""],"diagnosis":null}`,
		`{"physician":null,"specialty":null,"issued_on":null,"studies":[],"diagnosis":null,"extra":1}`,
		`{"physician":"x"}`,
		`not json`,
	}
	for _, raw := range bad {
		if err := ValidateFields([]byte(raw)); err == nil {
			t.Fatalf("expected validation error for %s", raw)
		}
	}
	raw, _ := Parse(sampleOrder).JSON()
	if err := ValidateFields(raw); err != nil {
		t.Fatalf("sample must validate: %v", err)
	}
}

func TestFirstOrder(t *testing.T) {
	never := func(string) (int, bool) { return 0, false }
	one := func(string) (int, bool) { return 1, true }
	two := func(string) (int, bool) { return 2, true }
	if v, ok := First("", []Strategy[int]{never, one, two}); !ok || v != 1 {
		t.Fatalf("First = %d, %v", v, ok)
	}
	if _, ok := First("", []Strategy[int]{never}); ok {
		t.Fatalf("expected miss")
	}
}

func TestSpecialty(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
		ok   bool
	}{
		{"médica slash", "Médica / Endocrinología\n", "Endocrinología", true},
		{"label on same line", "Médico / Clínica Médica Fecha: 01/01/2024", "Clínica Médica", true},
		{"especialidad label", "Especialidad: Cardiología Infantil\n", "Cardiología Infantil", true},
		{"especialidad then label", "Especialidad: Cardiología Matrícula: 123", "Cardiología", true},
		{"none", "sin datos del profesional", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Specialty(tt.text)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("Specialty(%q) = %q, %v; want %q, %v", tt.text, got, ok, tt.want, tt.ok)
			}
		})
	}
}
