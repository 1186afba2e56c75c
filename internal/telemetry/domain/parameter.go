package telemetry

import "fmt"

// Parameter names one of the fixed sensor channels.
type Parameter string

const (
	ParamAtmoTemp       Parameter = "atmo_temp"
	ParamHumidity       Parameter = "humidity"
	ParamLightIntensity Parameter = "light_intensity"
	ParamSoilTemp       Parameter = "soil_temp"
	ParamMoisture       Parameter = "moisture"
	ParamEC             Parameter = "ec"
	ParamPH             Parameter = "ph"
	ParamNitrogen       Parameter = "nitrogen"
	ParamPhosphorus     Parameter = "phosphorus"
	ParamPotassium      Parameter = "potassium"
)

var allParameters = []Parameter{
	ParamAtmoTemp,
	ParamHumidity,
	ParamLightIntensity,
	ParamSoilTemp,
	ParamMoisture,
	ParamEC,
	ParamPH,
	ParamNitrogen,
	ParamPhosphorus,
	ParamPotassium,
}

// Parameters returns every parameter in canonical order.
func Parameters() []Parameter {
	return append([]Parameter(nil), allParameters...)
}

// Valid reports whether p is a known parameter.
func (p Parameter) Valid() bool {
	switch p {
	case ParamAtmoTemp, ParamHumidity, ParamLightIntensity, ParamSoilTemp, ParamMoisture,
		ParamEC, ParamPH, ParamNitrogen, ParamPhosphorus, ParamPotassium:
		return true
	default:
		return false
	}
}

// ParseParameter validates a parameter name.
func ParseParameter(value string) (Parameter, error) {
	p := Parameter(value)
	if !p.Valid() {
		return "", fmt.Errorf("unknown parameter %q", value)
	}
	return p, nil
}

// Label is a human readable name used in alert messages.
func (p Parameter) Label() string {
	switch p {
	case ParamAtmoTemp:
		return "atmospheric temperature"
	case ParamHumidity:
		return "humidity"
	case ParamLightIntensity:
		return "light intensity"
	case ParamSoilTemp:
		return "soil temperature"
	case ParamMoisture:
		return "soil moisture"
	case ParamEC:
		return "electrical conductivity"
	case ParamPH:
		return "pH"
	case ParamNitrogen:
		return "nitrogen"
	case ParamPhosphorus:
		return "phosphorus"
	case ParamPotassium:
		return "potassium"
	default:
		return string(p)
	}
}
