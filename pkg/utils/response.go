package utils

// ResponseData es el sobre JSON estándar de todos los endpoints REST.
type ResponseData struct {
	Status  int         `json:"status"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Results interface{} `json:"results,omitempty"`
}

// PanicIfNeeded lanza panic con el error recibido para que el middleware de
// recovery lo traduzca a una respuesta HTTP tipada.
func PanicIfNeeded(err interface{}, message ...string) {
	if err != nil {
		if len(message) > 0 {
			panic(message[0])
		}
		panic(err)
	}
}
