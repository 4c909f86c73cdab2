package timeutils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultZone es el huso horario de negocio. Offset fijo (sin DST): las
// ventanas de atención y los reportes se calculan siempre contra esta zona.
var DefaultZone = time.FixedZone("America/Lima", -5*60*60)

// NowMillis devuelve el reloj de pared en milisegundos UTC. Es el valor que
// llevan updated_at y los timestamps de mensajes.
func NowMillis() int64 {
	return time.Now().UTC().UnixMilli()
}

// BusinessDay formatea el día YYYY-MM-DD del instante en la zona de negocio.
// Es la clave de agrupación de las métricas diarias.
func BusinessDay(t time.Time) string {
	return t.In(DefaultZone).Format("2006-01-02")
}

// DaySchedule es la ventana de atención de un día. Open/Close en "HH:MM".
type DaySchedule struct {
	Open   string `json:"open"`
	Close  string `json:"close"`
	Closed bool   `json:"closed"`
}

// WeeklySchedule mapea día de semana (0=domingo .. 6=sábado) a su ventana.
// Los días ausentes cuentan como cerrados.
type WeeklySchedule map[int]DaySchedule

// IsOpenAt evalúa si el horario está abierto en el instante dado, convertido
// a la zona de negocio.
func (ws WeeklySchedule) IsOpenAt(t time.Time) bool {
	local := t.In(DefaultZone)
	day, ok := ws[int(local.Weekday())]
	if !ok || day.Closed {
		return false
	}

	open, err := parseHHMM(day.Open)
	if err != nil {
		return false
	}
	close, err := parseHHMM(day.Close)
	if err != nil {
		return false
	}

	minutes := local.Hour()*60 + local.Minute()
	if close < open {
		// Ventana que cruza medianoche (ej. 20:00-02:00)
		return minutes >= open || minutes < close
	}
	return minutes >= open && minutes < close
}

// Describe devuelve el día y la hora actuales en la zona de negocio, en el
// formato que consumen las herramientas del agente.
func Describe(t time.Time) (day string, clock string) {
	local := t.In(DefaultZone)
	days := []string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}
	return days[int(local.Weekday())], local.Format("15:04")
}

func parseHHMM(v string) (int, error) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", v)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour %q", parts[0])
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute %q", parts[1])
	}
	return h*60 + m, nil
}

// CalculateNextOccurrence returns the next occurrence time based on the recurrence days and original time.
// recurrenceDays: comma-separated integers (0=Sunday, 1=Monday, ..., 6=Saturday)
// originalTime: string "HH:MM" in the business zone
// from: the reference time to start calculating from (usually the last scheduled execution time)
func CalculateNextOccurrence(recurrenceDays string, originalTime string, from time.Time) (time.Time, error) {
	if recurrenceDays == "" || originalTime == "" {
		return time.Time{}, fmt.Errorf("recurrenceDays and originalTime are required")
	}

	parts := strings.Split(recurrenceDays, ",")
	targetDays := make(map[int]bool)
	for _, p := range parts {
		d, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid day in recurrence: %s", p)
		}
		if d < 0 || d > 6 {
			return time.Time{}, fmt.Errorf("day must be between 0 and 6")
		}
		targetDays[d] = true
	}

	minutes, err := parseHHMM(originalTime)
	if err != nil {
		return time.Time{}, err
	}
	hour, minute := minutes/60, minutes%60

	local := from.In(DefaultZone)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, DefaultZone)

	// If candidate is before or equal to 'from', start looking from the next day
	if !candidate.After(from) {
		candidate = candidate.Add(24 * time.Hour)
	}

	for i := 0; i < 365; i++ { // Guard against infinite loops
		if targetDays[int(candidate.Weekday())] {
			return candidate, nil
		}
		candidate = candidate.Add(24 * time.Hour)
	}

	return time.Time{}, fmt.Errorf("could not find next occurrence in 1 year")
}
