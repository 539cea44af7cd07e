package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSON(t *testing.T) {
	payload, err := DecodeJSON([]byte(`{"user": {"age": 30}}`))
	require.NoError(t, err)
	user := payload["user"].(map[string]interface{})
	assert.Equal(t, float64(30), user["age"])

	payload, err = DecodeJSON(nil)
	require.NoError(t, err)
	assert.Empty(t, payload)

	_, err = DecodeJSON([]byte(`{broken`))
	assert.Error(t, err)
}

func TestDecodeXML(t *testing.T) {
	payload, err := DecodeXML([]byte(`
		<order>
			<id>42</id>
			<customer>
				<name>Ada</name>
				<active>true</active>
			</customer>
			<item>first</item>
			<item>second</item>
		</order>`))
	require.NoError(t, err)

	assert.Equal(t, float64(42), payload["id"])
	customer := payload["customer"].(map[string]interface{})
	assert.Equal(t, "Ada", customer["name"])
	assert.Equal(t, true, customer["active"])

	items := payload["item"].([]interface{})
	require.Len(t, items, 2)
	assert.Equal(t, "first", items[0])
}

func TestDecodeXML_NamespacePrefixesDropped(t *testing.T) {
	payload, err := DecodeXML([]byte(`
		<soap:Body xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
			<name>Ada</name>
		</soap:Body>`))
	require.NoError(t, err)
	assert.Equal(t, "Ada", payload["name"])
}

func TestDecodeXML_Malformed(t *testing.T) {
	_, err := DecodeXML([]byte(`<open>`))
	assert.Error(t, err)
}
