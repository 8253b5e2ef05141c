package presence

import "math"

const earthRadiusMiles = 3958.8

// AreaCodeDistance returns the great-circle distance in miles between the
// centroids of two NANP area codes. It reports false when either code is
// not in the table.
func AreaCodeDistance(fromAreaCode, toAreaCode string) (float64, bool) {
	from, ok := areaCodeCentroids[fromAreaCode]
	if !ok {
		return 0, false
	}
	to, ok := areaCodeCentroids[toAreaCode]
	if !ok {
		return 0, false
	}
	return haversineMiles(from[0], from[1], to[0], to[1]), true
}

// haversineMiles computes the great-circle distance between two points
// given in decimal degrees.
func haversineMiles(lat1, lon1, lat2, lon2 float64) float64 {
	const degToRad = math.Pi / 180

	dLat := (lat2 - lat1) * degToRad
	dLon := (lon2 - lon1) * degToRad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMiles * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// areaCodeCentroids maps NANP area codes to the approximate latitude and
// longitude of their principal city. Overlay codes share their parent's
// coordinates.
var areaCodeCentroids = map[string][2]float64{
	"201": {40.73, -74.08},   // Jersey City NJ
	"202": {38.91, -77.04},   // Washington DC
	"203": {41.19, -73.20},   // Bridgeport CT
	"205": {33.52, -86.81},   // Birmingham AL
	"206": {47.61, -122.33},  // Seattle WA
	"207": {43.66, -70.26},   // Portland ME
	"208": {43.62, -116.21},  // Boise ID
	"209": {37.96, -121.29},  // Stockton CA
	"210": {29.42, -98.49},   // San Antonio TX
	"212": {40.71, -74.01},   // New York NY
	"213": {34.05, -118.25},  // Los Angeles CA
	"214": {32.78, -96.80},   // Dallas TX
	"215": {39.95, -75.17},   // Philadelphia PA
	"216": {41.50, -81.69},   // Cleveland OH
	"217": {39.80, -89.64},   // Springfield IL
	"218": {46.79, -92.10},   // Duluth MN
	"219": {41.59, -87.35},   // Gary IN
	"224": {42.05, -87.69},   // Evanston IL
	"225": {30.45, -91.19},   // Baton Rouge LA
	"228": {30.37, -89.09},   // Gulfport MS
	"229": {31.58, -84.16},   // Albany GA
	"231": {43.23, -86.25},   // Muskegon MI
	"234": {41.08, -81.52},   // Akron OH
	"239": {26.64, -81.87},   // Fort Myers FL
	"240": {39.00, -77.03},   // Silver Spring MD
	"248": {42.58, -83.15},   // Troy MI
	"251": {30.69, -88.04},   // Mobile AL
	"252": {35.61, -77.37},   // Greenville NC
	"253": {47.25, -122.44},  // Tacoma WA
	"254": {31.55, -97.15},   // Waco TX
	"256": {34.73, -86.59},   // Huntsville AL
	"260": {41.08, -85.14},   // Fort Wayne IN
	"262": {42.58, -87.82},   // Kenosha WI
	"267": {39.95, -75.17},   // Philadelphia PA
	"269": {42.29, -85.59},   // Kalamazoo MI
	"270": {36.99, -86.44},   // Bowling Green KY
	"276": {36.71, -81.98},   // Abingdon VA
	"281": {29.76, -95.37},   // Houston TX
	"301": {39.00, -77.03},   // Silver Spring MD
	"302": {39.75, -75.55},   // Wilmington DE
	"303": {39.74, -104.99},  // Denver CO
	"304": {38.35, -81.63},   // Charleston WV
	"305": {25.77, -80.19},   // Miami FL
	"307": {41.14, -104.82},  // Cheyenne WY
	"308": {41.12, -100.77},  // North Platte NE
	"309": {40.69, -89.59},   // Peoria IL
	"310": {34.02, -118.49},  // Santa Monica CA
	"312": {41.88, -87.63},   // Chicago IL
	"313": {42.33, -83.05},   // Detroit MI
	"314": {38.63, -90.20},   // St. Louis MO
	"315": {43.05, -76.15},   // Syracuse NY
	"316": {37.69, -97.34},   // Wichita KS
	"317": {39.77, -86.16},   // Indianapolis IN
	"318": {32.53, -93.75},   // Shreveport LA
	"319": {41.98, -91.67},   // Cedar Rapids IA
	"320": {45.56, -94.16},   // St. Cloud MN
	"321": {28.54, -81.38},   // Orlando FL
	"323": {34.05, -118.25},  // Los Angeles CA
	"325": {32.45, -99.73},   // Abilene TX
	"330": {41.08, -81.52},   // Akron OH
	"331": {41.79, -88.15},   // Naperville IL
	"334": {32.37, -86.30},   // Montgomery AL
	"336": {36.07, -79.79},   // Greensboro NC
	"337": {30.22, -92.02},   // Lafayette LA
	"347": {40.65, -73.95},   // New York NY boroughs
	"351": {42.63, -71.32},   // Lowell MA
	"352": {29.65, -82.32},   // Gainesville FL
	"360": {45.64, -122.66},  // Vancouver WA
	"361": {27.80, -97.40},   // Corpus Christi TX
	"385": {40.76, -111.89},  // Salt Lake City UT
	"386": {29.21, -81.02},   // Daytona Beach FL
	"401": {41.82, -71.41},   // Providence RI
	"402": {41.26, -95.93},   // Omaha NE
	"404": {33.75, -84.39},   // Atlanta GA
	"405": {35.47, -97.52},   // Oklahoma City OK
	"406": {45.78, -108.50},  // Billings MT
	"407": {28.54, -81.38},   // Orlando FL
	"408": {37.34, -121.89},  // San Jose CA
	"409": {30.08, -94.13},   // Beaumont TX
	"410": {39.29, -76.61},   // Baltimore MD
	"412": {40.44, -79.99},   // Pittsburgh PA
	"413": {42.10, -72.59},   // Springfield MA
	"414": {43.04, -87.91},   // Milwaukee WI
	"415": {37.77, -122.42},  // San Francisco CA
	"417": {37.21, -93.29},   // Springfield MO
	"419": {41.65, -83.54},   // Toledo OH
	"423": {35.05, -85.31},   // Chattanooga TN
	"424": {34.02, -118.49},  // Santa Monica CA
	"425": {47.61, -122.20},  // Bellevue WA
	"430": {32.35, -95.30},   // Tyler TX
	"432": {32.00, -102.08},  // Midland TX
	"434": {37.41, -79.14},   // Lynchburg VA
	"435": {37.10, -113.57},  // St. George UT
	"440": {41.45, -82.18},   // Lorain OH
	"443": {39.29, -76.61},   // Baltimore MD
	"469": {32.78, -96.80},   // Dallas TX
	"478": {32.84, -83.63},   // Macon GA
	"479": {35.39, -94.40},   // Fort Smith AR
	"480": {33.49, -111.93},  // Scottsdale AZ
	"484": {40.60, -75.47},   // Allentown PA
	"501": {34.75, -92.29},   // Little Rock AR
	"502": {38.25, -85.76},   // Louisville KY
	"503": {45.52, -122.68},  // Portland OR
	"504": {29.95, -90.07},   // New Orleans LA
	"505": {35.08, -106.65},  // Albuquerque NM
	"507": {44.02, -92.47},   // Rochester MN
	"508": {42.26, -71.80},   // Worcester MA
	"509": {47.66, -117.43},  // Spokane WA
	"510": {37.80, -122.27},  // Oakland CA
	"512": {30.27, -97.74},   // Austin TX
	"513": {39.10, -84.51},   // Cincinnati OH
	"515": {41.59, -93.62},   // Des Moines IA
	"516": {40.71, -73.59},   // Hempstead NY
	"517": {42.73, -84.56},   // Lansing MI
	"518": {42.65, -73.75},   // Albany NY
	"520": {32.22, -110.97},  // Tucson AZ
	"530": {40.59, -122.39},  // Redding CA
	"540": {37.27, -79.94},   // Roanoke VA
	"541": {44.05, -123.09},  // Eugene OR
	"551": {40.73, -74.08},   // Jersey City NJ
	"559": {36.75, -119.77},  // Fresno CA
	"561": {26.72, -80.05},   // West Palm Beach FL
	"562": {33.77, -118.19},  // Long Beach CA
	"563": {41.52, -90.58},   // Davenport IA
	"567": {41.65, -83.54},   // Toledo OH
	"570": {41.41, -75.66},   // Scranton PA
	"571": {38.88, -77.10},   // Arlington VA
	"573": {38.95, -92.33},   // Columbia MO
	"574": {41.68, -86.25},   // South Bend IN
	"575": {32.31, -106.78},  // Las Cruces NM
	"580": {34.61, -98.39},   // Lawton OK
	"585": {43.16, -77.61},   // Rochester NY
	"586": {42.49, -83.03},   // Warren MI
	"601": {32.30, -90.18},   // Jackson MS
	"602": {33.45, -112.07},  // Phoenix AZ
	"603": {42.99, -71.46},   // Manchester NH
	"605": {43.55, -96.73},   // Sioux Falls SD
	"606": {38.48, -82.64},   // Ashland KY
	"607": {42.10, -75.92},   // Binghamton NY
	"608": {43.07, -89.40},   // Madison WI
	"609": {40.22, -74.76},   // Trenton NJ
	"610": {40.60, -75.47},   // Allentown PA
	"612": {44.98, -93.27},   // Minneapolis MN
	"614": {39.96, -83.00},   // Columbus OH
	"615": {36.16, -86.78},   // Nashville TN
	"616": {42.96, -85.66},   // Grand Rapids MI
	"617": {42.36, -71.06},   // Boston MA
	"618": {38.52, -89.98},   // Belleville IL
	"619": {32.72, -117.16},  // San Diego CA
	"620": {38.06, -97.93},   // Hutchinson KS
	"623": {33.54, -112.19},  // Glendale AZ
	"626": {34.15, -118.14},  // Pasadena CA
	"628": {37.77, -122.42},  // San Francisco CA
	"630": {41.79, -88.15},   // Naperville IL
	"631": {40.73, -73.21},   // Islip NY
	"636": {38.81, -90.70},   // O'Fallon MO
	"641": {43.15, -93.20},   // Mason City IA
	"646": {40.71, -74.01},   // New York NY
	"650": {37.56, -122.31},  // San Mateo CA
	"651": {44.95, -93.09},   // St. Paul MN
	"660": {38.70, -93.23},   // Sedalia MO
	"661": {35.37, -119.02},  // Bakersfield CA
	"662": {34.26, -88.70},   // Tupelo MS
	"667": {39.29, -76.61},   // Baltimore MD
	"678": {33.75, -84.39},   // Atlanta GA
	"682": {32.76, -97.33},   // Fort Worth TX
	"701": {46.88, -96.79},   // Fargo ND
	"702": {36.17, -115.14},  // Las Vegas NV
	"703": {38.88, -77.10},   // Arlington VA
	"704": {35.23, -80.84},   // Charlotte NC
	"706": {33.47, -81.97},   // Augusta GA
	"707": {38.44, -122.71},  // Santa Rosa CA
	"708": {41.85, -87.75},   // Cicero IL
	"712": {42.50, -96.40},   // Sioux City IA
	"713": {29.76, -95.37},   // Houston TX
	"714": {33.84, -117.91},  // Anaheim CA
	"715": {44.81, -91.50},   // Eau Claire WI
	"716": {42.89, -78.88},   // Buffalo NY
	"717": {40.04, -76.31},   // Lancaster PA
	"718": {40.65, -73.95},   // New York NY boroughs
	"719": {38.83, -104.82},  // Colorado Springs CO
	"720": {39.74, -104.99},  // Denver CO
	"724": {41.00, -80.35},   // New Castle PA
	"727": {27.77, -82.64},   // St. Petersburg FL
	"731": {35.61, -88.81},   // Jackson TN
	"732": {40.49, -74.45},   // New Brunswick NJ
	"734": {42.28, -83.74},   // Ann Arbor MI
	"740": {39.94, -82.01},   // Zanesville OH
	"754": {26.12, -80.14},   // Fort Lauderdale FL
	"757": {36.85, -75.98},   // Virginia Beach VA
	"760": {33.20, -117.38},  // Oceanside CA
	"763": {45.09, -93.36},   // Brooklyn Park MN
	"765": {40.19, -85.39},   // Muncie IN
	"770": {33.95, -84.55},   // Marietta GA
	"772": {27.27, -80.35},   // Port St. Lucie FL
	"773": {41.88, -87.63},   // Chicago IL
	"774": {42.26, -71.80},   // Worcester MA
	"775": {39.53, -119.81},  // Reno NV
	"779": {42.27, -89.09},   // Rockford IL
	"781": {42.38, -71.24},   // Waltham MA
	"785": {39.05, -95.68},   // Topeka KS
	"786": {25.77, -80.19},   // Miami FL
	"801": {40.76, -111.89},  // Salt Lake City UT
	"802": {44.48, -73.21},   // Burlington VT
	"803": {34.00, -81.03},   // Columbia SC
	"804": {37.54, -77.44},   // Richmond VA
	"805": {34.27, -119.29},  // Ventura CA
	"806": {33.58, -101.86},  // Lubbock TX
	"808": {21.31, -157.86},  // Honolulu HI
	"810": {43.01, -83.69},   // Flint MI
	"812": {37.97, -87.57},   // Evansville IN
	"813": {27.95, -82.46},   // Tampa FL
	"814": {42.13, -80.09},   // Erie PA
	"815": {42.27, -89.09},   // Rockford IL
	"816": {39.10, -94.58},   // Kansas City MO
	"817": {32.76, -97.33},   // Fort Worth TX
	"818": {34.18, -118.31},  // Burbank CA
	"828": {35.60, -82.55},   // Asheville NC
	"830": {29.70, -98.12},   // New Braunfels TX
	"831": {36.68, -121.66},  // Salinas CA
	"832": {29.76, -95.37},   // Houston TX
	"843": {32.78, -79.93},   // Charleston SC
	"845": {41.70, -73.92},   // Poughkeepsie NY
	"847": {42.05, -87.69},   // Evanston IL
	"848": {40.49, -74.45},   // New Brunswick NJ
	"850": {30.44, -84.28},   // Tallahassee FL
	"856": {39.93, -75.12},   // Camden NJ
	"857": {42.36, -71.06},   // Boston MA
	"858": {32.90, -117.20},  // San Diego CA north
	"859": {38.04, -84.50},   // Lexington KY
	"860": {41.77, -72.67},   // Hartford CT
	"862": {40.74, -74.17},   // Newark NJ
	"863": {28.04, -81.95},   // Lakeland FL
	"864": {34.85, -82.40},   // Greenville SC
	"865": {35.96, -83.92},   // Knoxville TN
	"870": {35.84, -90.70},   // Jonesboro AR
	"878": {40.44, -79.99},   // Pittsburgh PA
	"901": {35.15, -90.05},   // Memphis TN
	"903": {32.35, -95.30},   // Tyler TX
	"904": {30.33, -81.66},   // Jacksonville FL
	"906": {46.54, -87.40},   // Marquette MI
	"907": {61.22, -149.90},  // Anchorage AK
	"908": {40.66, -74.21},   // Elizabeth NJ
	"909": {34.11, -117.29},  // San Bernardino CA
	"910": {35.05, -78.88},   // Fayetteville NC
	"912": {32.08, -81.09},   // Savannah GA
	"913": {39.11, -94.63},   // Kansas City KS
	"914": {41.03, -73.76},   // White Plains NY
	"915": {31.76, -106.49},  // El Paso TX
	"916": {38.58, -121.49},  // Sacramento CA
	"917": {40.71, -74.01},   // New York NY
	"918": {36.15, -95.99},   // Tulsa OK
	"919": {35.78, -78.64},   // Raleigh NC
	"920": {44.51, -88.02},   // Green Bay WI
	"925": {37.98, -122.03},  // Concord CA
	"928": {35.20, -111.65},  // Flagstaff AZ
	"931": {36.53, -87.36},   // Clarksville TN
	"936": {30.72, -95.55},   // Huntsville TX
	"937": {39.76, -84.19},   // Dayton OH
	"940": {33.91, -98.49},   // Wichita Falls TX
	"941": {27.34, -82.53},   // Sarasota FL
	"947": {42.58, -83.15},   // Troy MI
	"949": {33.68, -117.83},  // Irvine CA
	"951": {33.95, -117.40},  // Riverside CA
	"952": {44.84, -93.30},   // Bloomington MN
	"954": {26.12, -80.14},   // Fort Lauderdale FL
	"956": {27.51, -99.51},   // Laredo TX
	"970": {40.59, -105.08},  // Fort Collins CO
	"971": {45.52, -122.68},  // Portland OR
	"972": {32.78, -96.80},   // Dallas TX
	"973": {40.74, -74.17},   // Newark NJ
	"978": {42.63, -71.32},   // Lowell MA
	"979": {30.63, -96.33},   // College Station TX
	"980": {35.23, -80.84},   // Charlotte NC
	"985": {29.60, -90.72},   // Houma LA
	"989": {43.42, -83.95},   // Saginaw MI
}
