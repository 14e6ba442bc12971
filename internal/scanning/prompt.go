package scanning

// labelScanPrompt is the shared prompt used by all LLM providers for scanning medicine labels
const labelScanPrompt = `You are reading the packaging of a medicine: a box, blister pack, bottle label or leaflet. Carefully read all text in the image and extract the following information:

1. **Medicine Name**: The brand or generic name of the product, usually the largest text on the pack. Include the strength if it is printed next to the name. Examples: "Amoxicillin 500 mg", "Paracetamol", "Ibuprofen 200 mg".

2. **Company**: The manufacturer or marketing authorization holder. Look for "Manufactured by", "Mfd. by", "Marketed by" or a company logo. Examples: "Pfizer", "Sandoz", "Teva".

3. **Expiry Date**: The expiry date printed on the pack, often labeled "EXP", "Expiry", "Use before" or "Best before". Convert it to MM/YYYY format. Do not confuse it with the manufacturing date ("MFG", "Mfd.").

Return ONLY valid JSON in this exact format:
{
  "name": "Medicine Name",
  "company": "Company",
  "expiry_date": "MM/YYYY"
}

Important:
- The expiry_date must be in MM/YYYY format with a two digit month
- If you cannot find a field, use an empty string for that field
- Do not include any text before or after the JSON
- Do not use markdown code blocks`
