package llm

import (
	"fmt"
	"strings"
)

const functionContract = `REGLAS DEL CÓDIGO:
1. Un solo archivo Go con "package main" y sin función main.
2. La función de entrada se llama exactamente %[1]s.
3. Los parámetros son de tipo string; se permite un último parámetro ...string.
4. Retorna (string, error). El string es el resultado para el usuario.
5. Si no recibe datos debe retornar un mensaje descriptivo, nunca un error.
6. La función lleva un comentario de documentación que explica qué hace.
7. Valida las entradas con if y maneja todos los errores.
8. Solo biblioteca estándar segura: fmt, strings, strconv, time, math, sort, errors, encoding/json, regexp, unicode.
9. Prohibido: os/exec, syscall, net, net/http, unsafe, plugin, sync, goroutines, bucles sin salida.
10. Archivos solo bajo resources/, logs/ o temp/ con rutas relativas.`

func generatePrompt(name, description string) string {
	var b strings.Builder
	b.WriteString("GENERA EL CÓDIGO COMPLETO PARA ESTA FUNCIÓN:\n\n")
	fmt.Fprintf(&b, "NOMBRE: %s\nDESCRIPCIÓN: %s\n\n", name, description)
	fmt.Fprintf(&b, functionContract, name)
	fmt.Fprintf(&b, `

EJEMPLO DE FORMATO:
`+"```go"+`
package main

import "fmt"

// %[1]s %[2]s
func %[1]s(args ...string) (string, error) {
	if len(args) == 0 || args[0] == "" {
		return "No se indicó ningún dato", nil
	}
	return fmt.Sprintf("Resultado para %%s", args[0]), nil
}
`+"```"+`

Responde SOLO con el código Go, sin explicaciones.`, name, description)
	return b.String()
}

func repairPrompt(code, failure string, final bool) string {
	instruction := "IMPORTANTE: Corrige solo los errores encontrados."
	if final {
		instruction = "IMPORTANTE: Genera el código completamente nuevo."
	}
	return fmt.Sprintf(`REPARA ESTA FUNCIÓN GO:

CÓDIGO:
`+"```go"+`
%s
`+"```"+`

ERROR:
%s

%s
Conserva el nombre de la función, su documentación y su firma.
Responde SOLO con el código Go completo, sin explicaciones.`, code, failure, instruction)
}

func classifyPrompt(text, listing string) string {
	if strings.TrimSpace(listing) == "" {
		listing = "(ninguna)"
	}
	return fmt.Sprintf(`ANALIZA ESTA PETICIÓN Y DETERMINA SI HAY UNA FUNCIÓN EXISTENTE QUE LA CUMPLA
O SI SE NECESITA CREAR UNA NUEVA.

FUNCIONES DISPONIBLES:
%s

PETICIÓN DEL USUARIO:
%s

REGLAS:
1. Si existe una función que cumpla la petición, responde: "YES - nombre_funcion datos_extra"
2. Si no existe y se necesita crear una, responde: "NEW - nombre_funcion descripción"
3. Si no se pide una función o no requiere acción, responde: "NO"

IMPORTANTE:
- Los nombres de funciones nuevas van en snake_case y empiezan con un verbo.
- No sugerir funciones que requieran APIs externas, red o claves.
- La descripción debe ser clara y específica.

Responde SOLO con uno de los 3 formatos, sin explicaciones adicionales.`, listing, text)
}

func translatePrompt(raw, requestContext string) string {
	return fmt.Sprintf(`CONVIERTE ESTE RESULTADO EN UNA RESPUESTA NATURAL Y CONVERSACIONAL:

CONTEXTO DE LA PETICIÓN:
%s

RESULTADO:
%s

REGLAS:
1. Responde como un asistente amigable hablando directamente.
2. Si es un resultado exitoso, confirma la acción y menciona el resultado concreto.
3. Si es un error, explícalo de forma simple y sugiere una solución.
4. Responde en una o dos frases.`, requestContext, raw)
}
