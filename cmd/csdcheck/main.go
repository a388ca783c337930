// csdcheck diagnostica un CSD antes de subirlo: vigencia, RFC, contraseña de la llave
// y que la llave selle y verifique contra el certificado.
//
//	csdcheck -cer EKU9003173C9.cer -key EKU9003173C9.key -pass 12345678a
//	csdcheck -pfx EKU9003173C9.pfx -pass 12345678a
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
	"github.com/jhoicas/facturacion-cfdi/internal/infrastructure/csd"
	"github.com/jhoicas/facturacion-cfdi/internal/infrastructure/sat"
)

func main() {
	cerPath := flag.String("cer", "", "certificado .cer")
	keyPath := flag.String("key", "", "llave privada .key")
	pfxPath := flag.String("pfx", "", "paquete .pfx (en lugar de -cer/-key)")
	pass := flag.String("pass", os.Getenv("CSD_PASSPHRASE"), "contraseña de la llave o del pfx")
	flag.Parse()

	fmt.Println("🔍 DIAGNÓSTICO DE CSD")
	fmt.Println("----------------------")

	cred, err := load(*cerPath, *keyPath, *pfxPath, *pass)
	if err != nil {
		fail(err)
	}

	c := cred.Certificate
	fmt.Printf("✅ Certificado %s\n", c.Number)
	fmt.Printf("   RFC:       %s\n", c.RFC)
	fmt.Printf("   Sujeto:    %s\n", c.Subject)
	fmt.Printf("   Vigencia:  %s → %s\n", c.NotBefore.Format("2006-01-02"), c.NotAfter.Format("2006-01-02"))

	// sello de prueba sobre una cadena fija
	cadena := cfdi.CadenaOriginal("||4.0|CSDCHECK|" + c.Number + "||")
	seal, err := sat.Sign(cadena, cred.Key)
	if err != nil {
		fail(err)
	}
	if err := sat.Verify(cadena, seal, c); err != nil {
		fail(err)
	}
	fmt.Println("✅ La llave sella y el sello verifica con el certificado.")
}

func load(cerPath, keyPath, pfxPath, pass string) (csd.Credential, error) {
	if pfxPath != "" {
		fmt.Printf("📂 Leyendo %s\n", pfxPath)
		return csd.LoadPFX(pfxPath, pass)
	}
	if cerPath == "" || keyPath == "" {
		flag.Usage()
		os.Exit(2)
	}
	fmt.Printf("📂 Leyendo %s y %s\n", cerPath, keyPath)
	cert, err := csd.LoadCertificate(cerPath)
	if err != nil {
		return csd.Credential{}, err
	}
	key, err := csd.LoadPrivateKey(keyPath, pass)
	if err != nil {
		return csd.Credential{}, err
	}
	cred := csd.Credential{Certificate: cert, Key: key}
	return cred, cred.Validate()
}

func fail(err error) {
	fmt.Println("\n❌ CSD RECHAZADO:")
	if e, ok := cfdi.AsError(err); ok && e.Hint != "" {
		fmt.Printf("   %v\n   Acción sugerida: %s\n", err, e.Hint)
	} else {
		fmt.Printf("   %v\n", err)
	}
	os.Exit(1)
}
